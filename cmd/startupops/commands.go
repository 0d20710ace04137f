package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sakura-kun-88/startup-compass-89/pkg/codec"
	"github.com/sakura-kun-88/startup-compass-89/pkg/config"
	"github.com/sakura-kun-88/startup-compass-89/pkg/forms"
	"github.com/sakura-kun-88/startup-compass-89/pkg/identity"
	"github.com/sakura-kun-88/startup-compass-89/pkg/submission"
)

// fieldFlags collects repeated --set name=value flags.
type fieldFlags map[string]string

func (f fieldFlags) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f fieldFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	f[name] = value
	return nil
}

func writeJSONOut(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}

// runSubmitCmd submits one form against a fresh in-process ledger and waits
// for the outcome.
//
// Exit codes:
//
//	0 = submission succeeded
//	1 = submission failed
//	2 = usage or setup error
func runSubmitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		form       string
		wallet     string
		timeout    time.Duration
		jsonOutput bool
		fields     = fieldFlags{}
	)
	cmd.StringVar(&form, "form", "", "Form name (REQUIRED): "+strings.Join(forms.Names(), ", "))
	cmd.StringVar(&wallet, "wallet", "", "Connected wallet address (REQUIRED)")
	cmd.DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the outcome")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	cmd.Var(fields, "set", "Field value as name=value (repeatable)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if form == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --form is required")
		return 2
	}
	addr, err := identity.ParseAddress(wallet)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error: connect a wallet with --wallet 0x...")
		return 2
	}

	cfg := config.Load()
	slog.SetDefault(newLogger(cfg, stderr))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, appOptions{memoryJournal: true})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = a.Close(context.Background()) }()

	b, err := forms.NewForm(form, a.coord)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := b.Fill(fields); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	h, err := b.Submit(identity.WithAddress(ctx, addr))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	st, waitErr := h.Wait(ctx)
	verified, msg := a.ledger.Verify()

	if jsonOutput {
		result := map[string]any{
			"form":          form,
			"submission_id": h.ID(),
			"record_id":     h.Key().RecordID,
			"category":      h.Key().Category,
			"phase":         st.Phase.String(),
			"tx_handle":     st.TxHandle.String(),
			"ledger_valid":  verified,
		}
		if waitErr != nil {
			result["error"] = waitErr.Error()
		}
		if p := h.Payload(); p != nil {
			result["ciphertext"] = p.Ciphertext
		}
		writeJSONOut(stdout, result)
	} else if waitErr != nil {
		_, _ = fmt.Fprintf(stderr, "Submission failed: %v\n", waitErr)
	} else {
		_, _ = fmt.Fprintf(stdout, "Transaction submitted: %s\n", st.TxHandle)
		_, _ = fmt.Fprintf(stdout, "   Submission: %s\n", h.ID())
		_, _ = fmt.Fprintf(stdout, "   Key:        %s\n", h.Key())
		_, _ = fmt.Fprintf(stdout, "   Ledger:     %s\n", msg)
	}

	if waitErr != nil || st.Phase != submission.PhaseSucceeded {
		return 1
	}
	return 0
}

func runCategoriesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("categories", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	reg, err := config.Load().LoadCategories()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	type row struct {
		Name       string   `json:"name"`
		Call       string   `json:"call"`
		Encrypted  bool     `json:"encrypted"`
		Companions []string `json:"companions"`
	}
	rows := make([]row, 0)
	for _, name := range reg.Names() {
		s, _ := reg.Lookup(name)
		r := row{Name: s.Name, Call: s.Call, Encrypted: s.CarriesValue(), Companions: []string{}}
		for _, c := range s.Companions {
			label := c.Name
			if c.Required {
				label += "*"
			}
			r.Companions = append(r.Companions, label)
		}
		rows = append(rows, r)
	}

	if *jsonOutput {
		writeJSONOut(stdout, map[string]any{"version": reg.Version(), "categories": rows})
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "Categories (version %s)\n", reg.Version())
	for _, r := range rows {
		_, _ = fmt.Fprintf(stdout, "  %-16s %-18s %s\n", r.Name, r.Call, strings.Join(r.Companions, " "))
	}
	return 0
}

func runFormsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("forms", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	reg, err := config.Load().LoadCategories()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	coord := submission.NewCoordinator(nil, reg)

	out := make(map[string][]forms.Field)
	for _, name := range forms.Names() {
		b, err := forms.NewForm(name, coord)
		if err != nil {
			continue
		}
		out[name] = b.Fields()
	}
	if *jsonOutput {
		writeJSONOut(stdout, out)
		return 0
	}
	for _, name := range forms.Names() {
		fields, ok := out[name]
		if !ok {
			continue
		}
		names := make([]string, 0, len(fields))
		for _, f := range fields {
			n := f.Name
			if f.Required {
				n += "*"
			}
			names = append(names, n)
		}
		_, _ = fmt.Fprintf(stdout, "  %-14s %s\n", name, strings.Join(names, " "))
	}
	return 0
}

func runEncodeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("encode", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	seed := cmd.String("seed", "", "Seed for the integrity token (default all-zero)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: startupops encode [--seed s] <value>")
		return 2
	}
	v, err := strconv.ParseFloat(cmd.Arg(0), 64)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %q is not a number\n", cmd.Arg(0))
		return 2
	}

	var opts []codec.Option
	if *seed != "" {
		opts = append(opts, codec.WithSeed([]byte(*seed)))
	}
	p, err := codec.New(opts...).Encode(v)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	writeJSONOut(stdout, map[string]string{
		"ciphertext": p.Ciphertext,
		"proof":      "0x" + hex.EncodeToString(p.ProofBytes()),
	})
	return 0
}

func runDecodeCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: startupops decode <ciphertext>")
		return 2
	}
	v, err := codec.New().Decode(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, strconv.FormatFloat(v, 'f', -1, 64))
	return 0
}
