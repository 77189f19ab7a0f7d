package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/trustgate/trustgate/pkg/auditpack"
	"github.com/trustgate/trustgate/pkg/canonical"
	"github.com/trustgate/trustgate/pkg/config"
	"github.com/trustgate/trustgate/pkg/gate"
	"github.com/trustgate/trustgate/pkg/hostadapter"
	"github.com/trustgate/trustgate/pkg/policy"
	"github.com/trustgate/trustgate/pkg/replay"
	"github.com/trustgate/trustgate/pkg/tracestore"
)

func openStores(dir string) (*tracestore.FileStore, *tracestore.LegalHoldStore, error) {
	if dir == "" {
		dir = config.LoadHost().TraceDir
	}
	store, err := tracestore.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	holds, err := tracestore.NewLegalHoldStore(filepath.Join(dir, "holds"))
	if err != nil {
		return nil, nil, err
	}
	return store, holds, nil
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var traceID, dir, out string
	var jsonOutput bool
	cmd.StringVar(&traceID, "trace", "", "Trace ID to export (REQUIRED)")
	cmd.StringVar(&dir, "dir", "", "Trace store directory")
	cmd.StringVar(&out, "out", "", "Output directory for the pack")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if traceID == "" {
		fmt.Fprintln(stderr, "Error: --trace is required")
		cmd.Usage()
		return 2
	}

	store, holds, err := openStores(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening trace store: %v\n", err)
		return 1
	}

	zipPath, err := auditpack.NewExporter(store, holds).Export(traceID, out)
	if err != nil {
		fmt.Fprintf(stderr, "Export failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		result := map[string]any{"trace_id": traceID, "pack_path": zipPath, "status": "created"}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Audit pack created: %s\n", zipPath)
	}
	return 0
}

func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("replay", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var traceID, dir string
	var jsonOutput bool
	cmd.StringVar(&traceID, "trace", "", "Trace ID to replay (REQUIRED)")
	cmd.StringVar(&dir, "dir", "", "Trace store directory")
	cmd.BoolVar(&jsonOutput, "json", false, "Output report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if traceID == "" {
		fmt.Fprintln(stderr, "Error: --trace is required")
		cmd.Usage()
		return 2
	}

	store, _, err := openStores(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening trace store: %v\n", err)
		return 1
	}

	report, err := replay.Replay(traceID, store, gate.DefaultTrustedTools(), time.Now().UTC())
	if err != nil {
		fmt.Fprintf(stderr, "Replay failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "Trace:      %s\n", report.TraceID)
		fmt.Fprintf(stdout, "Equivalent: %v\n", report.Equivalent)
		fmt.Fprintf(stdout, "Claims:     %d\n", len(report.ReplayedClaims))
		fmt.Fprintf(stdout, "Failures:   %d\n", len(report.ReplayedFailures))
	}
	if !report.Equivalent {
		return 1
	}
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var traceID, dir string
	var jsonOutput bool
	cmd.StringVar(&traceID, "trace", "", "Trace ID to verify (REQUIRED)")
	cmd.StringVar(&dir, "dir", "", "Trace store directory")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if traceID == "" {
		fmt.Fprintln(stderr, "Error: --trace is required")
		cmd.Usage()
		return 2
	}

	store, _, err := openStores(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening trace store: %v\n", err)
		return 1
	}

	record, err := store.Load(traceID)
	if err != nil {
		fmt.Fprintf(stderr, "Verification failed: %v\n", err)
		return 1
	}

	var problems []string
	if record.TraceID != traceID {
		problems = append(problems, "trace id mismatch")
	}
	for _, check := range []struct {
		name   string
		value  map[string]any
		stored string
	}{
		{"response", record.Response, record.ResponseHash},
		{"context", record.Context, record.ContextHash},
		{"replay inputs", record.ReplayInputs, record.ReplayInputsHash},
	} {
		digest, hashErr := canonical.Hash(check.value)
		if hashErr != nil || digest != check.stored {
			problems = append(problems, check.name+" hash mismatch")
		}
	}
	if !canonical.ValidateChain(record.Events) {
		problems = append(problems, "event chain invalid")
	}

	if jsonOutput {
		result := map[string]any{
			"trace_id": traceID,
			"valid":    len(problems) == 0,
			"events":   len(record.Events),
		}
		if len(problems) > 0 {
			result["problems"] = problems
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if len(problems) == 0 {
		fmt.Fprintf(stdout, "Trace verified: %s (%d events)\n", traceID, len(record.Events))
	}
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(stderr, "Verification failed: %s\n", p)
		}
		return 1
	}
	return 0
}

func runValidateProfilesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate-profiles", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var dir string
	cmd.StringVar(&dir, "dir", "", "Profiles directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dir == "" {
		dir = config.LoadHost().ProfilesDir
	}

	profiles, err := config.LoadAllDomainProfiles(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Profile validation failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Validated %d profile(s)\n", len(profiles))
	for domain := range profiles {
		fmt.Fprintf(stdout, "  %s\n", domain)
	}
	return 0
}

// policyBundle is the declared policy set a deployment pins, checked
// against the compiled-in registry before rollout.
type policyBundle struct {
	Policies []struct {
		PolicyID string `yaml:"policy_id" json:"policy_id"`
		Version  string `yaml:"version"   json:"version"`
	} `yaml:"policies" json:"policies"`
}

func runValidatePolicyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate-policy", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var bundlePath string
	cmd.StringVar(&bundlePath, "bundle", "", "Policy bundle file, YAML or JSON (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if bundlePath == "" {
		fmt.Fprintln(stderr, "Error: --bundle is required")
		cmd.Usage()
		return 2
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading bundle: %v\n", err)
		return 1
	}
	var bundle policyBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		fmt.Fprintf(stderr, "Error parsing bundle: %v\n", err)
		return 1
	}
	if len(bundle.Policies) == 0 {
		fmt.Fprintln(stderr, "Error: bundle declares no policies")
		return 1
	}

	registry := policy.Definitions()
	declared := map[string]bool{}
	var problems []string
	for _, p := range bundle.Policies {
		declared[p.PolicyID] = true
		def, ok := registry[p.PolicyID]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: not in registry", p.PolicyID))
			continue
		}
		pinned, err := semver.NewVersion(p.Version)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid version %q", p.PolicyID, p.Version))
			continue
		}
		current := semver.MustParse(def.Version)
		if !pinned.Equal(current) {
			problems = append(problems, fmt.Sprintf("%s: pinned %s, registry has %s", p.PolicyID, p.Version, def.Version))
		}
	}
	for id := range registry {
		if !declared[id] {
			problems = append(problems, fmt.Sprintf("%s: missing from bundle", id))
		}
	}

	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(stderr, "Policy bundle invalid: %s\n", p)
		}
		return 1
	}
	fmt.Fprintf(stdout, "Policy bundle valid: %d policies\n", len(bundle.Policies))
	return 0
}

func runDryRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("dry-run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var inputPath string
	cmd.StringVar(&inputPath, "input", "", "Turn JSON file, or - for stdin (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" {
		fmt.Fprintln(stderr, "Error: --input is required")
		cmd.Usage()
		return 2
	}

	var data []byte
	var err error
	if inputPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(inputPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error reading input: %v\n", err)
		return 1
	}
	var turn chatTurn
	if err := json.Unmarshal(data, &turn); err != nil {
		fmt.Fprintf(stderr, "Error parsing turn: %v\n", err)
		return 1
	}

	controls := gate.ControlsFromEnv()
	result := turn.chatResult()
	reqCtx := hostadapter.RequestContext(result, nil, controls)
	if turn.Domain != "" {
		reqCtx.Domain = turn.Domain
	}

	evidenceList := turn.RawEvidence
	if evidenceList == nil {
		evidenceList = hostadapter.RetrievedEvidence(result)
	}

	g := gate.New(gate.Config{})
	response, err := g.GateResponse(hostadapter.DraftAnswer(result), evidenceList, reqCtx)
	if err != nil {
		fmt.Fprintf(stderr, "Gating failed: %v\n", err)
		return 1
	}
	serialized, err := json.MarshalIndent(response.Contract(), "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Gating failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(serialized))
	return 0
}

func runRetentionCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("retention", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var dir string
	cmd.StringVar(&dir, "dir", "", "Trace store directory")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, _, err := openStores(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening trace store: %v\n", err)
		return 1
	}

	deleted, err := store.SweepExpired(time.Now().UTC())
	if err != nil {
		fmt.Fprintf(stderr, "Retention sweep failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Swept %d expired trace(s)\n", len(deleted))
	for _, id := range deleted {
		fmt.Fprintf(stdout, "  %s\n", id)
	}
	return 0
}

func runLegalHoldCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("legal-hold", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var traceID, dir string
	var release bool
	cmd.StringVar(&traceID, "trace", "", "Trace ID (REQUIRED)")
	cmd.StringVar(&dir, "dir", "", "Trace store directory")
	cmd.BoolVar(&release, "release", false, "Release the hold instead of placing it")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if traceID == "" {
		fmt.Fprintln(stderr, "Error: --trace is required")
		cmd.Usage()
		return 2
	}

	store, _, err := openStores(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening trace store: %v\n", err)
		return 1
	}

	record, err := store.Load(traceID)
	if err != nil {
		fmt.Fprintf(stderr, "Legal hold failed: %v\n", err)
		return 1
	}

	decisionRecord, ok := record.Response["decision_record"].(map[string]any)
	if !ok {
		decisionRecord = map[string]any{}
		record.Response["decision_record"] = decisionRecord
	}
	retention, ok := decisionRecord["retention"].(map[string]any)
	if !ok {
		retention = map[string]any{}
		decisionRecord["retention"] = retention
	}
	retention["legal_hold"] = !release
	if _, err := store.Store(traceID, record.Response, record.Context, record.ReplayInputs); err != nil {
		fmt.Fprintf(stderr, "Legal hold failed: %v\n", err)
		return 1
	}

	if release {
		fmt.Fprintf(stdout, "Legal hold released: %s\n", traceID)
	} else {
		fmt.Fprintf(stdout, "Legal hold placed: %s\n", traceID)
	}
	return 0
}
