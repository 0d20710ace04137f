package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "submit":
		return runSubmitCmd(args[2:], stdout, stderr)
	case "categories":
		return runCategoriesCmd(args[2:], stdout, stderr)
	case "forms":
		return runFormsCmd(args[2:], stdout, stderr)
	case "encode":
		return runEncodeCmd(args[2:], stdout, stderr)
	case "decode":
		return runDecodeCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return startServer(stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "StartupOps encrypted submission service")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  startupops <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "serve", "Run the HTTP API (default)")
	printCommand(w, "submit", "Submit one form against an in-process ledger (--form, --wallet, --set k=v)")
	printCommand(w, "categories", "List submission categories (--json)")
	printCommand(w, "forms", "List dashboard forms and their fields (--json)")
	printCommand(w, "encode", "Encode a value into its ciphertext-like payload")
	printCommand(w, "decode", "Decode a ciphertext-like payload")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ENVIRONMENT:")
	fmt.Fprintln(w, "  PORT, LOG_LEVEL, DATABASE_URL, REDIS_ADDR, CHAIN_RPS, CHAIN_BURST, CHAIN_TIMEOUT,")
	fmt.Fprintln(w, "  CATEGORIES_FILE, PROOF_SEED, OTEL_ENABLED, OTEL_ENDPOINT, JWT_REQUIRED")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-12s %s\n", name, desc)
}
