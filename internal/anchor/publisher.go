package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	hedera "github.com/hashgraph/hedera-sdk-go/v2"

	"timelock.mini/tlm/internal/types"
)

// Message is the checkpoint announcement sent to a publisher.
type Message struct {
	Protocol  string          `json:"p"`
	Owner     types.AccountID `json:"owner"`
	Root      types.Hash      `json:"root"`
	FromSeq   uint64          `json:"from"`
	ToSeq     uint64          `json:"to"`
	LeafCount int             `json:"leaves"`
	CreatedAt types.Timestamp `json:"ts"`
}

// Receipt identifies where a checkpoint was published.
type Receipt struct {
	TopicID  string
	Sequence uint64
	TxID     string
}

// Publisher announces checkpoint roots to an external log.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (Receipt, error)
}

// NoopPublisher keeps checkpoints local.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Message) (Receipt, error) {
	return Receipt{}, nil
}

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"

	protocolID = "tlm-anchor/1"
	// Hedera rejects topic messages larger than this without chunking.
	maxMessageBytes = 1024
)

// HederaConfig holds the consensus service operator and topic.
type HederaConfig struct {
	Network    string
	TopicID    string
	AccountID  string
	PrivateKey string
}

// HederaPublisher submits checkpoint messages to a Hedera consensus topic.
type HederaPublisher struct {
	client *hedera.Client
	topic  hedera.TopicID
}

// NewHederaPublisher validates cfg and builds an operator client.
func NewHederaPublisher(cfg HederaConfig) (*HederaPublisher, error) {
	network, err := normalizeNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, errors.New("hedera operator account ID is required")
	}
	topic, err := hedera.TopicIDFromString(strings.TrimSpace(cfg.TopicID))
	if err != nil {
		return nil, fmt.Errorf("invalid topic ID %q: %w", cfg.TopicID, err)
	}
	operatorID, err := hedera.AccountIDFromString(strings.TrimSpace(cfg.AccountID))
	if err != nil {
		return nil, fmt.Errorf("invalid operator account ID: %w", err)
	}
	operatorKey, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	var client *hedera.Client
	if network == NetworkMainnet {
		client = hedera.ClientForMainnet()
	} else {
		client = hedera.ClientForTestnet()
	}
	client.SetOperator(operatorID, operatorKey)

	return &HederaPublisher{client: client, topic: topic}, nil
}

// Publish submits msg as JSON and waits for the receipt.
func (p *HederaPublisher) Publish(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	msg.Protocol = protocolID
	payload, err := json.Marshal(msg)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode checkpoint message: %w", err)
	}
	if len(payload) > maxMessageBytes {
		return Receipt{}, fmt.Errorf("checkpoint message is %d bytes, limit %d", len(payload), maxMessageBytes)
	}

	response, err := hedera.NewTopicMessageSubmitTransaction().
		SetTopicID(p.topic).
		SetMessage(payload).
		SetTransactionMemo(fmt.Sprintf("tlm:%d-%d", msg.FromSeq, msg.ToSeq)).
		Execute(p.client)
	if err != nil {
		return Receipt{}, fmt.Errorf("submit checkpoint message: %w", err)
	}

	receipt, err := response.GetReceipt(p.client)
	if err != nil {
		return Receipt{}, fmt.Errorf("get checkpoint receipt: %w", err)
	}

	return Receipt{
		TopicID:  p.topic.String(),
		Sequence: receipt.TopicSequenceNumber,
		TxID:     response.TransactionID.String(),
	}, nil
}

// Close releases the Hedera client connections.
func (p *HederaPublisher) Close() error {
	return p.client.Close()
}

func normalizeNetwork(network string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(network))
	switch normalized {
	case "":
		return NetworkTestnet, nil
	case NetworkMainnet, NetworkTestnet:
		return normalized, nil
	default:
		return "", fmt.Errorf("unsupported network %q", network)
	}
}

func parsePrivateKey(raw string) (hedera.PrivateKey, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return hedera.PrivateKey{}, errors.New("hedera operator private key is required")
	}
	if key, err := hedera.PrivateKeyFromStringEd25519(candidate); err == nil {
		return key, nil
	}
	if key, err := hedera.PrivateKeyFromStringECDSA(candidate); err == nil {
		return key, nil
	}
	key, err := hedera.PrivateKeyFromString(candidate)
	if err != nil {
		return hedera.PrivateKey{}, fmt.Errorf("parse operator private key: %w", err)
	}
	return key, nil
}
