// Command deployer prepares a ledger deployment directory (owner key,
// config and an initialized database) and optionally pushes it to remote
// hosts over rsync.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type hostResult struct {
	host     string
	duration time.Duration
	err      error
}

func main() {
	var (
		opts         options
		hostsFlag    string
		keyFlag      string
		binaryFlag   string
		remoteDir    string
		remoteUser   string
		parallelFlag int
		pushDB       bool
	)

	homeDir, _ := os.UserHomeDir()

	flag.StringVar(&opts.dir, "dir", "deploy", "Local deployment directory")
	flag.StringVar(&opts.price, "price", "1000", "Initial price per byte")
	flag.StringVar(&opts.scheme, "scheme", "ed25519", "Owner key scheme: ed25519 or secp256k1")
	flag.IntVar(&opts.port, "port", 8080, "HTTP port written to config.json")
	flag.StringVar(&hostsFlag, "hosts", "", "Comma-separated list of hosts to push to (empty: prepare only)")
	flag.StringVar(&keyFlag, "key", filepath.Join(homeDir, ".ssh", "id_ed25519"), "Path to SSH private key")
	flag.StringVar(&binaryFlag, "binary", "", "Path of a tlm binary to push along with the directory")
	flag.StringVar(&remoteDir, "remote-dir", "/opt/tlm", "Remote deployment directory")
	flag.StringVar(&remoteUser, "user", "tlm", "Remote SSH user")
	flag.IntVar(&parallelFlag, "parallel", 2, "Number of hosts to deploy concurrently")
	flag.BoolVar(&pushDB, "push-db", false, "Overwrite the remote ledger database")
	flag.Parse()
	log.SetPrefix("[TLM] ")

	owner, err := prepare(context.Background(), opts)
	if err != nil {
		log.Fatalf("ERROR: prepare %s: %v", opts.dir, err)
	}
	log.Printf("INFO: deployment ready in %s, owner %s", opts.dir, owner)

	hostList := resolveHosts(hostsFlag)
	if len(hostList) == 0 {
		return
	}
	if parallelFlag < 1 {
		parallelFlag = 1
	}
	if parallelFlag > len(hostList) {
		parallelFlag = len(hostList)
	}
	if err := ensureToolExists("rsync"); err != nil {
		log.Fatalf("ERROR: rsync not available: %v", err)
	}
	if err := ensureFileExists(keyFlag); err != nil {
		log.Fatalf("ERROR: ssh key not accessible: %v", err)
	}
	if binaryFlag != "" {
		if err := ensureFileExists(binaryFlag); err != nil {
			log.Fatalf("ERROR: binary not accessible: %v", err)
		}
	}

	push := pushConfig{
		user:      remoteUser,
		keyPath:   keyFlag,
		localDir:  opts.dir,
		binary:    binaryFlag,
		remoteDir: remoteDir,
		pushDB:    pushDB,
	}
	results := runDeployments(hostList, push, parallelFlag)

	var failed int
	for _, r := range results {
		if r.err != nil {
			failed++
			log.Printf("ERROR: [%s] deployment failed after %s: %v", r.host, r.duration.Truncate(time.Millisecond), r.err)
		} else {
			log.Printf("INFO: [%s] deployment completed in %s", r.host, r.duration.Truncate(time.Millisecond))
		}
	}
	if failed > 0 {
		log.Fatalf("ERROR: deployment failed on %d host(s)", failed)
	}
}

func resolveHosts(flagValue string) []string {
	var hosts []string
	for _, p := range strings.Split(flagValue, ",") {
		if h := strings.TrimSpace(p); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

func ensureToolExists(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("required tool %q not found in PATH", name)
	}
	return nil
}

func ensureFileExists(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

type pushConfig struct {
	user      string
	keyPath   string
	localDir  string
	binary    string
	remoteDir string
	pushDB    bool
}

func runDeployments(hosts []string, cfg pushConfig, parallel int) []hostResult {
	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, parallel)
		results = make([]hostResult, len(hosts))
	)

	for idx, host := range hosts {
		wg.Add(1)
		go func(i int, h string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			err := deployHost(h, cfg)
			results[i] = hostResult{
				host:     h,
				duration: time.Since(start),
				err:      err,
			}
		}(idx, host)
	}

	wg.Wait()
	return results
}

func deployHost(host string, cfg pushConfig) error {
	log.Printf("INFO: [%s] starting deployment", host)
	sshTarget := fmt.Sprintf("%s@%s", cfg.user, host)

	if err := stopRemoteBinary(sshTarget, cfg.keyPath); err != nil {
		return fmt.Errorf("stop remote binary: %w", err)
	}
	if err := sshRun(sshTarget, cfg.keyPath, fmt.Sprintf("mkdir -p %s", cfg.remoteDir), 20*time.Second); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	if err := rsyncCopy(filepath.Clean(cfg.localDir)+"/", fmt.Sprintf("%s:%s/", sshTarget, cfg.remoteDir), cfg.keyPath, rsyncExcludes(cfg.pushDB)); err != nil {
		return fmt.Errorf("rsync deployment: %w", err)
	}
	if cfg.binary != "" {
		if err := rsyncCopy(cfg.binary, fmt.Sprintf("%s:%s/tlm", sshTarget, cfg.remoteDir), cfg.keyPath, nil); err != nil {
			return fmt.Errorf("rsync binary: %w", err)
		}
		if err := sshRun(sshTarget, cfg.keyPath, fmt.Sprintf("chmod +x %s/tlm", cfg.remoteDir), 5*time.Second); err != nil {
			return fmt.Errorf("set executable bit: %w", err)
		}
	}

	startCmd := fmt.Sprintf("cd %s && CONFIG_FILE=config.json setsid -f nohup ./tlm > tlm.log 2>&1 < /dev/null", cfg.remoteDir)
	if err := sshRun(sshTarget, cfg.keyPath, startCmd, 30*time.Second); err != nil {
		return fmt.Errorf("start remote binary: %w", err)
	}

	time.Sleep(2 * time.Second)
	if err := sshRun(sshTarget, cfg.keyPath, "pgrep -f 'tlm$'", 5*time.Second); err != nil {
		log.Printf("WARN: [%s] process failed to start, fetching tlm.log", host)
		if logErr := sshRun(sshTarget, cfg.keyPath, fmt.Sprintf("cat %s/tlm.log", cfg.remoteDir), 5*time.Second); logErr != nil {
			log.Printf("WARN: [%s] failed to fetch log: %v", host, logErr)
		}
		return fmt.Errorf("verify process running: %w", err)
	}
	return nil
}

// rsyncExcludes keeps the live database and its backups on the remote side
// unless pushDB is set.
func rsyncExcludes(pushDB bool) []string {
	excludes := []string{"ledger.db-wal", "ledger.db-shm", "backups/", "tlm.log"}
	if !pushDB {
		excludes = append(excludes, "ledger.db")
	}
	return excludes
}

func sshRun(target, keyPath, remoteCmd string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := []string{
		"-i", keyPath,
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=no",
		target,
		remoteCmd,
	}

	cmd := exec.CommandContext(ctx, "ssh", args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ssh command timed out: %s", remoteCmd)
		}
		return fmt.Errorf("ssh error (%s): %v | output: %s", remoteCmd, err, strings.TrimSpace(output.String()))
	}
	if out := strings.TrimSpace(output.String()); out != "" {
		log.Printf("INFO: [%s] %s", target, out)
	}
	return nil
}

func rsyncCopy(src, dest, keyPath string, excludes []string) error {
	args := []string{"-az"}
	for _, ex := range excludes {
		args = append(args, "--exclude="+ex)
	}
	args = append(args,
		"-e", fmt.Sprintf("ssh -i %s -o BatchMode=yes -o StrictHostKeyChecking=no", keyPath),
		src,
		dest,
	)

	cmd := exec.Command("rsync", args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rsync output: %s | err: %w", strings.TrimSpace(output.String()), err)
	}
	return nil
}

func stopRemoteBinary(target, keyPath string) error {
	stopCmd := "pgrep -f 'tlm$' >/dev/null && pkill -TERM -f 'tlm$' || true"
	if err := sshRun(target, keyPath, stopCmd, 15*time.Second); err != nil {
		return err
	}

	waitCmd := "count=0; while pgrep -f 'tlm$' >/dev/null; do if [ \"$count\" -ge 15 ]; then exit 1; fi; count=$((count+1)); sleep 1; done"
	return sshRun(target, keyPath, waitCmd, 20*time.Second)
}
