// Command kasmixctl is the CLI surface for the Control Surface (§4.6, §6).
// It is a thin HTTP client over kasmixd's control IPC: every subcommand maps
// to one Control Surface operation, prints the {ok, value}/{ok, kind,
// message} envelope as JSON, and exits with the §6 exit code convention
// (0 success, 1 user error, 2 node/bridge unreachable, 3 state-machine
// rejection).
package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"

	"kasmix/internal/config"
	"kasmix/internal/control"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	client, err := newClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kasmixctl: %v\n", err)
		os.Exit(2)
	}

	var result control.Result
	switch os.Args[1] {
	case "create":
		result, err = runCreate(client, os.Args[2:])
	case "list":
		result, err = client.do(http.MethodGet, "/mixing", nil)
	case "status":
		result, err = runWithID(client, os.Args[2:], http.MethodGet, "/mixing/%s")
	case "delete":
		result, err = runWithID(client, os.Args[2:], http.MethodDelete, "/mixing/%s")
	case "export-keys":
		result, err = runWithID(client, os.Args[2:], http.MethodGet, "/mixing/%s/export_keys")
	case "coinjoin-create":
		result, err = runCoinJoinCreate(client, os.Args[2:])
	case "coinjoin-reveal":
		result, err = runWithID(client, os.Args[2:], http.MethodPost, "/coinjoin/%s/reveal")
	case "coinjoin-build":
		result, err = runWithID(client, os.Args[2:], http.MethodPost, "/coinjoin/rounds/%s/build")
	case "coinjoin-sign":
		result, err = runCoinJoinSign(client, os.Args[2:])
	case "coinjoin-submit":
		result, err = runWithID(client, os.Args[2:], http.MethodPost, "/coinjoin/rounds/%s/submit")
	case "version":
		fmt.Printf("kasmixctl %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "kasmixctl: %v\n", err)
		os.Exit(2)
	}

	printResult(result)
	os.Exit(exitCodeFor(result))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: kasmixctl <command> [arguments]

Commands:
  create -dest addr=amount [-dest addr=amount ...]
  list
  status <id>
  delete <id>
  export-keys <id>
  coinjoin-create -amount <sompi> -dest <address> -utxo txid:index:amount [...]
  coinjoin-reveal <id>
  coinjoin-build <round-id>
  coinjoin-sign <session-id> -round <round-id> -descriptor-file <path> -key-file <path> [-expected-tx-hash <hash>]
  coinjoin-submit <round-id>
  version

Exit codes: 0 success, 1 user error, 2 node/bridge unreachable, 3 state-machine rejection.
`)
}

// exitCodeFor maps a Result's Kind onto the §6 CLI exit code convention.
func exitCodeFor(result control.Result) int {
	if result.OK {
		return 0
	}
	switch result.Kind {
	case control.KindInputValidation, control.KindUTXONotAvailable, control.KindInvalidConfig:
		return 1
	case control.KindNodeUnreachable, control.KindNodeTimeout, control.KindSequenceLock,
		control.KindUTXOCreationFailed, control.KindMempoolReject:
		return 2
	default:
		// CommitmentMismatch, UnequalContribution, SignatureRejected,
		// RoundTimeout, InternalInvariant: all state-machine rejections.
		return 3
	}
}

func printResult(result control.Result) {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "kasmixctl: failed to encode result: %v\n", err)
		return
	}
	if result.OK {
		fmt.Println(string(encoded))
	} else {
		fmt.Fprintln(os.Stderr, string(encoded))
	}
}

// client is a minimal HTTP adapter onto kasmixd's control IPC (§6 "Control
// IPC"). It carries a cookie jar so mutating calls can echo the CSRF
// double-submit token the daemon's middleware requires.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient() (*client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("init cookie jar: %w", err)
	}
	baseURL := os.Getenv("KASMIX_DAEMON_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://127.0.0.1:%d/api", cfg.Port)
	}
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Jar: jar, Timeout: config.RPCRequestTimeout},
	}, nil
}

// csrfToken mints (via a harmless GET) and returns the daemon's CSRF cookie
// value, required on every mutating request by internal/api/middleware.CSRF.
func (c *client) csrfToken() (string, error) {
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return "", fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse daemon url: %w", err)
	}
	for _, cookie := range c.http.Jar.Cookies(u) {
		if cookie.Name == "csrf_token" {
			return cookie.Value, nil
		}
	}
	return "", fmt.Errorf("daemon did not issue a csrf token")
}

func (c *client) do(method, path string, body any) (control.Result, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return control.Result{}, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return control.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if method != http.MethodGet {
		token, err := c.csrfToken()
		if err != nil {
			return control.Result{}, err
		}
		req.Header.Set("X-CSRF-Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return control.Result{}, fmt.Errorf("reach daemon: %w", err)
	}
	defer resp.Body.Close()

	var result control.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return control.Result{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func runWithID(c *client, args []string, method, pathFormat string) (control.Result, error) {
	if len(args) < 1 {
		return control.Result{}, fmt.Errorf("missing required <id> argument")
	}
	return c.do(method, fmt.Sprintf(pathFormat, args[0]), nil)
}

// destFlag collects repeated -dest address=amount flags into Destination
// payloads.
type destFlag []destinationArg

type destinationArg struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount,string"`
}

func (d *destFlag) String() string {
	parts := make([]string, len(*d))
	for i, dest := range *d {
		parts[i] = fmt.Sprintf("%s=%d", dest.Address, dest.Amount)
	}
	return strings.Join(parts, ",")
}

func (d *destFlag) Set(value string) error {
	address, amountStr, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected address=amount, got %q", value)
	}
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse amount in %q: %w", value, err)
	}
	*d = append(*d, destinationArg{Address: address, Amount: amount})
	return nil
}

func runCreate(c *client, args []string) (control.Result, error) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	var dests destFlag
	fs.Var(&dests, "dest", "payout destination as address=amount (repeatable)")
	fs.Parse(args)

	if len(dests) == 0 {
		return control.Result{}, fmt.Errorf("at least one -dest is required")
	}
	return c.do(http.MethodPost, "/mixing", struct {
		Destinations []destinationArg `json:"destinations"`
	}{Destinations: dests})
}

// utxoFlag collects repeated -utxo txid:index:amount flags.
type utxoFlag []utxoArg

type utxoArg struct {
	TxID   string `json:"tx_id"`
	Index  uint32 `json:"index"`
	Amount uint64 `json:"amount,string"`
}

func (u *utxoFlag) String() string {
	parts := make([]string, len(*u))
	for i, utxo := range *u {
		parts[i] = fmt.Sprintf("%s:%d:%d", utxo.TxID, utxo.Index, utxo.Amount)
	}
	return strings.Join(parts, ",")
}

func (u *utxoFlag) Set(value string) error {
	fields := strings.Split(value, ":")
	if len(fields) != 3 {
		return fmt.Errorf("expected txid:index:amount, got %q", value)
	}
	index, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return fmt.Errorf("parse index in %q: %w", value, err)
	}
	amount, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return fmt.Errorf("parse amount in %q: %w", value, err)
	}
	*u = append(*u, utxoArg{TxID: fields[0], Index: uint32(index), Amount: amount})
	return nil
}

func runCoinJoinCreate(c *client, args []string) (control.Result, error) {
	fs := flag.NewFlagSet("coinjoin-create", flag.ExitOnError)
	amount := fs.Uint64("amount", 0, "per-participant amount in sompi")
	destination := fs.String("dest", "", "payout destination address")
	var utxos utxoFlag
	fs.Var(&utxos, "utxo", "input utxo as txid:index:amount (repeatable)")
	fs.Parse(args)

	if *amount == 0 {
		return control.Result{}, fmt.Errorf("-amount is required and must be nonzero")
	}
	if *destination == "" {
		return control.Result{}, fmt.Errorf("-dest is required")
	}
	if len(utxos) == 0 {
		return control.Result{}, fmt.Errorf("at least one -utxo is required")
	}

	return c.do(http.MethodPost, "/coinjoin", struct {
		Amount      uint64    `json:"amount,string"`
		Destination string    `json:"destination"`
		UTXOs       []utxoArg `json:"utxos"`
	}{Amount: *amount, Destination: *destination, UTXOs: utxos})
}

func runCoinJoinSign(c *client, args []string) (control.Result, error) {
	if len(args) < 1 {
		return control.Result{}, fmt.Errorf("missing required <session-id> argument")
	}
	sessionID := args[0]

	fs := flag.NewFlagSet("coinjoin-sign", flag.ExitOnError)
	roundID := fs.String("round", "", "round id returned by coinjoin-build (required)")
	descriptorFile := fs.String("descriptor-file", "", "path to the unsigned transaction descriptor JSON from coinjoin-build (required)")
	keyFile := fs.String("key-file", "", "path to a file containing the session's hex-encoded private key (required)")
	expectedTxHash := fs.String("expected-tx-hash", "", "expected unsigned transaction hash, for ownership cross-check")
	fs.Parse(args[1:])

	if *roundID == "" {
		return control.Result{}, fmt.Errorf("-round is required")
	}
	if *descriptorFile == "" {
		return control.Result{}, fmt.Errorf("-descriptor-file is required")
	}
	if *keyFile == "" {
		return control.Result{}, fmt.Errorf("-key-file is required")
	}

	descriptorRaw, err := os.ReadFile(*descriptorFile)
	if err != nil {
		return control.Result{}, fmt.Errorf("read descriptor file: %w", err)
	}
	var descriptor json.RawMessage
	if err := json.Unmarshal(descriptorRaw, &descriptor); err != nil {
		return control.Result{}, fmt.Errorf("parse descriptor file: %w", err)
	}

	keyRaw, err := os.ReadFile(*keyFile)
	if err != nil {
		return control.Result{}, fmt.Errorf("read key file: %w", err)
	}
	privateKeyHex := strings.TrimSpace(string(keyRaw))
	if _, err := hex.DecodeString(privateKeyHex); err != nil {
		return control.Result{}, fmt.Errorf("key file does not contain hex: %w", err)
	}

	signResult, err := c.do(http.MethodPost, fmt.Sprintf("/coinjoin/rounds/%s/sign", *roundID), struct {
		SessionID      string          `json:"session_id"`
		ExpectedTxHash string          `json:"expected_tx_hash"`
		PrivateKeyHex  string          `json:"private_key_hex"`
		Descriptor     json.RawMessage `json:"descriptor"`
	}{SessionID: sessionID, ExpectedTxHash: *expectedTxHash, PrivateKeyHex: privateKeyHex, Descriptor: descriptor})
	if err != nil || !signResult.OK {
		return signResult, err
	}

	// The only remaining step for this session's share to reach the round is
	// submitting it to the Bridge; do so in the same invocation rather than
	// requiring a command the §6 list doesn't name.
	shareRaw, err := json.Marshal(signResult.Value)
	if err != nil {
		return control.Result{}, fmt.Errorf("re-encode signature share: %w", err)
	}
	return c.do(http.MethodPost, fmt.Sprintf("/coinjoin/rounds/%s/signatures", *roundID), json.RawMessage(shareRaw))
}
