// Command stampctl hashes files and talks to a timelock node: it quotes
// fees, stamps and verifies hashes, and runs the owner's admin calls.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"timelock.mini/tlm/internal/client"
	"timelock.mini/tlm/internal/executor"
	"timelock.mini/tlm/internal/filehash"
	"timelock.mini/tlm/internal/identity"
	"timelock.mini/tlm/internal/types"
)

const usage = `usage: stampctl [-node URL] [-key FILE] <command> [args]

commands:
  keygen [-scheme ed25519|secp256k1]  create the signing key
  hash FILE                           print the SHA-256 and size of FILE
  quote FILE | -size N                fee to stamp FILE (or N bytes)
  stamp [-value N] FILE               stamp FILE, paying the quoted fee by default
  verify FILE | -hash H               show when FILE (or hash H) was stamped
  proof FILE | -hash H                fetch and check the anchor inclusion proof
  history [-clear]                    stamps made from this machine, newest first
  report [-o FILE] [HASH|FILE ...]    export record and proof of the given stamps (default: history)
  funds [ACCOUNT]                     deposited funds of ACCOUNT (default: this key)
  stats                               ledger counters, price, owner and balance
  set-price PRICE                     owner: change the price per byte
  withdraw AMOUNT                     owner: withdraw from the held balance
  deposit ACCOUNT AMOUNT              owner: credit ACCOUNT with funds paid off-node
  backup                              owner: write a backup on the node
  fetch-backup [-o FILE] [NAME]       owner: download backup NAME (default: a live snapshot)
`

type cli struct {
	node        string
	keyFile     string
	historyFile string
	out         io.Writer
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("stampctl: ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stampctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }

	c := &cli{out: out}
	fs.StringVar(&c.node, "node", envOr("TLM_NODE", client.DefaultAddr), "node API address")
	fs.StringVar(&c.keyFile, "key", envOr("TLM_KEY_FILE", "stampctl.pem"), "signing key file")
	fs.StringVar(&c.historyFile, "history", envOr("TLM_HISTORY_FILE", "stampctl_history.json"), "local stamp history file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "keygen":
		return c.keygen(rest)
	case "hash":
		return c.hash(rest)
	case "quote":
		return c.quote(ctx, rest)
	case "stamp":
		return c.stamp(ctx, rest)
	case "verify":
		return c.verify(ctx, rest)
	case "proof":
		return c.proof(ctx, rest)
	case "history":
		return c.history(rest)
	case "report":
		return c.report(ctx, rest)
	case "funds":
		return c.funds(ctx, rest)
	case "stats":
		return c.stats(ctx)
	case "set-price":
		return c.setPrice(ctx, rest)
	case "withdraw":
		return c.withdraw(ctx, rest)
	case "deposit":
		return c.deposit(ctx, rest)
	case "backup":
		return c.backup(ctx)
	case "fetch-backup":
		return c.fetchBackup(ctx, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *cli) api() *client.Client {
	return client.New(c.node)
}

func (c *cli) keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	scheme := fs.String("scheme", string(identity.SchemeEd25519), "key scheme")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(c.keyFile); err == nil {
		return fmt.Errorf("%s already exists", c.keyFile)
	}
	id, err := identity.LoadOrCreateIdentityScheme(c.keyFile, identity.Scheme(*scheme))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s key written to %s\naccount: %s\n", id.Scheme(), c.keyFile, id.PublicKeyHex())
	return nil
}

func (c *cli) hash(args []string) error {
	if len(args) != 1 {
		return errors.New("hash: expected one file")
	}
	d, err := filehash.File(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s  %s (%s)\n", d.Hash, args[0], filehash.FormatSize(d.Size))
	return nil
}

func (c *cli) quote(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	size := fs.Uint64("size", 0, "size in bytes instead of a file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n := *size
	if fs.NArg() == 1 {
		d, err := filehash.File(fs.Arg(0))
		if err != nil {
			return err
		}
		n = d.Size
	} else if n == 0 {
		return errors.New("quote: expected a file or -size")
	}

	q, err := c.api().Quote(ctx, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s at %s per byte: %s\n", filehash.FormatSize(q.FileSize), filehash.FormatAmount(q.PricePerByte), filehash.FormatAmount(q.Required))
	return nil
}

func (c *cli) stamp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stamp", flag.ContinueOnError)
	value := fs.String("value", "", "amount to attach (default: the quoted fee)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("stamp: expected one file")
	}
	d, err := filehash.File(fs.Arg(0))
	if err != nil {
		return err
	}

	api := c.api()
	var pay types.Amount
	if *value != "" {
		if pay, err = types.ParseAmount(*value); err != nil {
			return err
		}
	} else {
		q, err := api.Quote(ctx, d.Size)
		if err != nil {
			return err
		}
		pay = q.Required
	}

	res, err := c.submit(ctx, types.TxStampHash, types.StampPayload{Hash: d.Hash, FileSize: d.Size, Value: pay})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "stamped %s\n  hash: %s\n  paid: %s\n", fs.Arg(0), d.Hash, filehash.FormatAmount(pay))
	item := HistoryItem{
		Hash:     d.Hash,
		FileName: filepath.Base(fs.Arg(0)),
		FileSize: d.Size,
		Paid:     pay,
		TxID:     res.TxID,
		Node:     c.node,
	}
	if res.Timestamp != nil {
		item.Timestamp = *res.Timestamp
		fmt.Fprintf(c.out, "  time: %s\n", formatStamp(*res.Timestamp))
	}
	if err := appendHistory(c.historyFile, item); err != nil {
		log.Printf("WARN: stamp not recorded in history: %v", err)
	}
	return nil
}

func formatStamp(ts types.Timestamp) string {
	return ts.Time().UTC().Format("2006-01-02 15:04:05.000 MST")
}

func (c *cli) identity() (*identity.Identity, error) {
	id, err := identity.LoadOrCreateIdentity(c.keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	return id, nil
}

func (c *cli) submit(ctx context.Context, txType types.TxType, payload any) (executor.Result, error) {
	id, err := c.identity()
	if err != nil {
		return executor.Result{}, err
	}
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		return executor.Result{}, err
	}
	stx, err := tx.Sign(id)
	if err != nil {
		return executor.Result{}, err
	}
	return c.api().SubmitTx(ctx, stx)
}

// hashArg resolves either a -hash flag or a single file argument.
func hashArg(name string, args []string) (types.Hash, string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	hexHash := fs.String("hash", "", "hex SHA-256 instead of a file")
	if err := fs.Parse(args); err != nil {
		return types.Hash{}, "", err
	}
	if *hexHash != "" {
		h, err := types.ParseHash(*hexHash)
		return h, *hexHash, err
	}
	if fs.NArg() != 1 {
		return types.Hash{}, "", fmt.Errorf("%s: expected a file or -hash", name)
	}
	d, err := filehash.File(fs.Arg(0))
	return d.Hash, fs.Arg(0), err
}

func (c *cli) verify(ctx context.Context, args []string) error {
	h, label, err := hashArg("verify", args)
	if err != nil {
		return err
	}
	info, err := c.api().Timestamp(ctx, h)
	if err != nil {
		return err
	}
	if !info.Exists {
		fmt.Fprintf(c.out, "%s: not stamped\n", label)
		return nil
	}
	fmt.Fprintf(c.out, "%s: stamped %s (%s)\n", label, formatStamp(info.Timestamp), filehash.FormatTime(info.Timestamp))
	if info.Submitter != "" {
		fmt.Fprintf(c.out, "  by %s, %s\n", info.Submitter.Short(), filehash.FormatSize(info.FileSize))
	}
	return nil
}

func (c *cli) proof(ctx context.Context, args []string) error {
	h, label, err := hashArg("proof", args)
	if err != nil {
		return err
	}
	p, err := c.api().Proof(ctx, h)
	if err != nil {
		return err
	}
	if !p.Verify() {
		return fmt.Errorf("%s: proof does not match checkpoint root %s", label, p.Checkpoint.Root)
	}
	fmt.Fprintf(c.out, "%s: leaf %d of %d in checkpoint %d\n  root: %s\n", label, p.LeafIndex, p.TreeSize, p.Checkpoint.ID, p.Checkpoint.Root)
	if p.Checkpoint.TopicID != "" {
		fmt.Fprintf(c.out, "  hedera: topic %s seq %d tx %s\n", p.Checkpoint.TopicID, p.Checkpoint.TopicSeq, p.Checkpoint.TxID)
	}
	return nil
}

func (c *cli) stats(ctx context.Context) error {
	api := c.api()
	s, err := api.Stats(ctx)
	if err != nil {
		return err
	}
	price, err := api.Price(ctx)
	if err != nil {
		return err
	}
	owner, err := api.Owner(ctx)
	if err != nil {
		return err
	}
	bal, err := api.Balance(ctx)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "hashes:  %d\n", s.TotalHashes)
	fmt.Fprintf(&b, "volume:  %s\n", filehash.FormatAmount(s.TotalVolume))
	fmt.Fprintf(&b, "updated: %s\n", filehash.FormatTime(s.LastUpdated))
	fmt.Fprintf(&b, "price:   %s per byte\n", filehash.FormatAmount(price))
	fmt.Fprintf(&b, "balance: %s\n", filehash.FormatAmount(bal))
	fmt.Fprintf(&b, "owner:   %s\n", owner)
	_, err = io.WriteString(c.out, b.String())
	return err
}

func (c *cli) setPrice(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("set-price: expected PRICE")
	}
	price, err := types.ParseAmount(args[0])
	if err != nil {
		return err
	}
	if _, err := c.submit(ctx, types.TxSetPrice, types.SetPricePayload{NewPrice: price}); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "price set to %s per byte\n", filehash.FormatAmount(price))
	return nil
}

func (c *cli) withdraw(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("withdraw: expected AMOUNT")
	}
	amount, err := types.ParseAmount(args[0])
	if err != nil {
		return err
	}
	if _, err := c.submit(ctx, types.TxWithdraw, types.WithdrawPayload{Amount: amount}); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "withdrew %s\n", filehash.FormatAmount(amount))
	return nil
}

func (c *cli) history(args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	wipe := fs.Bool("clear", false, "delete the local history")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *wipe {
		if err := os.Remove(c.historyFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fmt.Fprintf(c.out, "history cleared\n")
		return nil
	}

	items, err := loadHistory(c.historyFile)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintf(c.out, "no stamps recorded in %s\n", c.historyFile)
		return nil
	}
	for _, it := range items {
		fmt.Fprintf(c.out, "%s  %s  %s (%s), paid %s\n",
			formatStamp(it.Timestamp), it.Hash, it.FileName, filehash.FormatSize(it.FileSize), filehash.FormatAmount(it.Paid))
	}
	return nil
}

// report exports the node's record and anchor proof for each requested hash,
// or for every hash in the local history.
func (c *cli) report(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	outPath := fs.String("o", "", "write the report to FILE instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	history, err := loadHistory(c.historyFile)
	if err != nil {
		return err
	}
	known := make(map[types.Hash]HistoryItem, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		known[history[i].Hash] = history[i]
	}

	var items []ReportItem
	if fs.NArg() == 0 {
		for _, it := range history {
			items = append(items, ReportItem{Hash: it.Hash, FileName: it.FileName, FileSize: it.FileSize})
		}
	}
	for _, arg := range fs.Args() {
		if h, err := types.ParseHash(arg); err == nil {
			it := known[h]
			items = append(items, ReportItem{Hash: h, FileName: it.FileName, FileSize: it.FileSize})
			continue
		}
		d, err := filehash.File(arg)
		if err != nil {
			return err
		}
		items = append(items, ReportItem{Hash: d.Hash, FileName: filepath.Base(arg), FileSize: d.Size})
	}
	if len(items) == 0 {
		return errors.New("report: no hashes given and the history is empty")
	}

	rep := Report{ExportTime: time.Now().UTC(), Node: c.node, TotalItems: len(items)}
	node := c.api()
	for i := range items {
		if err := fillReportItem(ctx, node, &items[i]); err != nil {
			return err
		}
		if items[i].Record.Exists {
			rep.VerifiedItems++
		}
		if items[i].ProofValid {
			rep.AnchoredItems++
		}
	}
	rep.Items = items

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	if *outPath == "" {
		_, err = fmt.Fprintf(c.out, "%s\n", data)
		return err
	}
	if err := os.WriteFile(*outPath, append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "report for %d hashes (%d stamped, %d anchored) written to %s\n",
		rep.TotalItems, rep.VerifiedItems, rep.AnchoredItems, *outPath)
	return nil
}

func fillReportItem(ctx context.Context, node *client.Client, it *ReportItem) error {
	info, err := node.Timestamp(ctx, it.Hash)
	if err != nil {
		return err
	}
	it.Record = info
	if !info.Exists {
		it.Note = "not stamped"
		return nil
	}

	p, err := node.Proof(ctx, it.Hash)
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict:
		it.Note = "stamped, not anchored yet"
		return nil
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable:
		it.Note = "anchoring disabled on this node"
		return nil
	case err != nil:
		return err
	}
	it.Proof = &p
	it.ProofValid = p.Verify()
	if !it.ProofValid {
		it.Note = "proof does not match checkpoint root"
	}
	return nil
}

func (c *cli) funds(ctx context.Context, args []string) error {
	var account types.AccountID
	switch len(args) {
	case 0:
		id, err := c.identity()
		if err != nil {
			return err
		}
		account = types.AccountID(id.PublicKeyHex())
	case 1:
		account = types.AccountID(args[0])
	default:
		return errors.New("funds: expected at most one ACCOUNT")
	}

	f, err := c.api().Funds(ctx, account)
	if err != nil {
		return err
	}
	mode := "stamps are paid from these funds"
	if !f.Enforced {
		mode = "node accepts declared value"
	}
	fmt.Fprintf(c.out, "%s: %s (%s)\n", account.Short(), filehash.FormatAmount(f.Funds), mode)
	return nil
}

func (c *cli) deposit(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("deposit: expected ACCOUNT AMOUNT")
	}
	amount, err := types.ParseAmount(args[1])
	if err != nil {
		return err
	}
	to := types.AccountID(args[0])
	if _, err := c.submit(ctx, types.TxDeposit, types.DepositPayload{To: to, Amount: amount}); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deposited %s for %s\n", filehash.FormatAmount(amount), to.Short())
	return nil
}

func (c *cli) backup(ctx context.Context) error {
	id, err := c.identity()
	if err != nil {
		return err
	}
	name, err := c.api().CreateBackup(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "backup written: %s\n", name)
	return nil
}

func (c *cli) fetchBackup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch-backup", flag.ContinueOnError)
	outPath := fs.String("o", "", "output file (default: NAME, or a dated snapshot name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return errors.New("fetch-backup: expected at most one NAME")
	}
	name := fs.Arg(0)
	dest := *outPath
	if dest == "" {
		dest = name
		if dest == "" {
			dest = fmt.Sprintf("tlm-ledger-%s.db", time.Now().Format("2006-01-02"))
		}
	}

	id, err := c.identity()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	n, err := c.api().DownloadBackup(ctx, id, name, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	fmt.Fprintf(c.out, "saved %s (%s)\n", dest, filehash.FormatSize(uint64(n)))
	return nil
}
