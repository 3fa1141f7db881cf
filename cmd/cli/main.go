// Command caregate is a CLI client for the caregate gRPC API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/caregate/internal/rpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "caregate")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "caregate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "caregate")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tokenFile{AccessToken: tok, ExpiresAt: exp}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(tokenPath(), b, 0o600)
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", errors.New("no saved session (login required)")
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

func clearToken() error {
	if err := os.Remove(tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialConfig struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
}

// connector opens a client connection, authenticated with bearer when it is
// not empty. The returned func closes the connection.
type connector func(ctx context.Context, bearer string) (*rpc.Client, func(), error)

func (d dialConfig) connect(ctx context.Context, bearer string) (*rpc.Client, func(), error) {
	var creds credentials.TransportCredentials
	if d.plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(d.caPath, d.skipVerify)
		if err != nil {
			return nil, nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !d.plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(ctx, d.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return rpc.NewClient(cc), func() { _ = cc.Close() }, nil
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprint(os.Stderr, `caregate CLI
Usage:
  caregate -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  register        -email <e> -password <p> [-role client|caregiver] [-given n] [-family n]
  login           -email <e> -password <p>          (saves token)
  login-google    -id-token <jwt> [-role client|caregiver]
  logout
  passwd          [-old <p>] -new <p>
  me
  submit          -stage <stage> [stage fields]
  my-application
  show            -id <application id>
  events          -id <application id>
  list            [-stage s] [-status s] [-limit n] [-offset n]
  review          -id <application id> -stage <stage> -action approve|reject [-reason r]
  set-status      -id <identity id> -status active|pending|blocked
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses the global flags and dispatches a subcommand.
func main() {
	d := dialConfig{}
	flag.StringVar(&d.addr, "addr", "localhost:9090", "server addr")
	flag.StringVar(&d.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&d.skipVerify, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&d.plaintext, "plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, flag.Args(), os.Stdout, d.connect); err != nil {
		cancel()
		fail(err)
	}
}

func fail(err error) {
	if errors.Is(err, errUsage) {
		usage()
	}
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
