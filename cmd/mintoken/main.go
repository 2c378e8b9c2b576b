// Command mintoken prints a bearer token for the write endpoints, signed with
// DEGREELEDGER_API_SECRET.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	httphandler "github.com/ericfisherdev/degreeledger/internal/adapter/driving/http"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "mintoken:", err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, out io.Writer) error {
	fs := flag.NewFlagSet("mintoken", flag.ContinueOnError)
	subject := fs.String("subject", "", "client the token is issued to (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret := getenv("DEGREELEDGER_API_SECRET")
	if secret == "" {
		return errors.New("DEGREELEDGER_API_SECRET is not set")
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}
	if *ttl <= 0 {
		return fmt.Errorf("-ttl must be positive, got %s", *ttl)
	}

	token, err := httphandler.NewToken([]byte(secret), *subject, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
