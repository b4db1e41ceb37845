package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/govsdk"
)

const usage = "usage: govctl eligibility check --identity <id> --hat <hat_id> | govctl vouch request --candidate <id> --hat <hat_id> [--actor <id>] [--evidence <url>] | govctl vouch submit --request <request_id> --actor <id> [--oppose] [--evidence <url>] | govctl vouch status (--request <request_id> | --candidate <id> --hat <hat_id>) | govctl policy get | govctl policy set --actor <id> --file <json> [--hat <hat_id>]"

func main() {
	if len(os.Args) < 3 {
		failSummary("", usage)
		os.Exit(2)
	}
	switch os.Args[1] + " " + os.Args[2] {
	case "eligibility check":
		runEligibilityCheck(os.Args[3:])
	case "vouch request":
		runVouchRequest(os.Args[3:])
	case "vouch submit":
		runVouchSubmit(os.Args[3:])
	case "vouch status":
		runVouchStatus(os.Args[3:])
	case "policy get":
		runPolicyGet(os.Args[3:])
	case "policy set":
		runPolicySet(os.Args[3:])
	default:
		failSummary("", usage)
		os.Exit(2)
	}
}

func newClient() *govsdk.Client {
	base := strings.TrimSpace(os.Getenv("GOV_BASE_URL"))
	if base == "" {
		base = "http://localhost:8094"
	}
	return govsdk.New(base, strings.TrimSpace(os.Getenv("GOV_TOKEN")))
}

func runEligibilityCheck(args []string) {
	fs := flag.NewFlagSet("eligibility check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	identity := fs.String("identity", "", "candidate identity")
	hat := fs.String("hat", "", "hat id")
	if err := fs.Parse(args); err != nil {
		failSummary("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*identity) == "" || strings.TrimSpace(*hat) == "" {
		failSummary("", "both --identity and --hat are required")
		os.Exit(2)
	}

	out, err := newClient().Eligibility(context.Background(), *identity, *hat)
	if err != nil {
		failSummary("", err.Error())
		os.Exit(1)
	}
	if out.Decision.Eligible {
		passSummary("", map[string]any{"identity": *identity, "hat_id": *hat, "eligible": true})
		return
	}
	failSummary(string(out.Decision.Reason), out.Decision.Detail)
	os.Exit(1)
}

func runVouchRequest(args []string) {
	fs := flag.NewFlagSet("vouch request", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	candidate := fs.String("candidate", "", "candidate identity")
	hat := fs.String("hat", "", "hat id")
	actor := fs.String("actor", "", "acting identity (defaults to candidate)")
	evidence := fs.String("evidence", "", "evidence url")
	if err := fs.Parse(args); err != nil {
		failSummary("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*candidate) == "" || strings.TrimSpace(*hat) == "" {
		failSummary("", "both --candidate and --hat are required")
		os.Exit(2)
	}
	who := strings.TrimSpace(*actor)
	if who == "" {
		who = strings.TrimSpace(*candidate)
	}

	out, err := newClient().RequestVouch(context.Background(), govsdk.RequestVouchInput{
		ActorContext: govsdk.ActorContext{Identity: who},
		Candidate:    strings.TrimSpace(*candidate),
		HatID:        strings.TrimSpace(*hat),
		EvidenceURL:  strings.TrimSpace(*evidence),
	})
	if err != nil {
		failSummary("", err.Error())
		os.Exit(1)
	}
	passSummary(out.VouchRequest.RequestID, requestSummary(out))
}

func runVouchSubmit(args []string) {
	fs := flag.NewFlagSet("vouch submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	request := fs.String("request", "", "vouch request id")
	actor := fs.String("actor", "", "voucher identity")
	oppose := fs.Bool("oppose", false, "record an opposing response")
	evidence := fs.String("evidence", "", "evidence url")
	if err := fs.Parse(args); err != nil {
		failSummary("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*request) == "" || strings.TrimSpace(*actor) == "" {
		failSummary("", "both --request and --actor are required")
		os.Exit(2)
	}

	out, err := newClient().SubmitVouch(context.Background(), strings.TrimSpace(*request), govsdk.SubmitVouchInput{
		ActorContext: govsdk.ActorContext{Identity: strings.TrimSpace(*actor)},
		Support:      !*oppose,
		EvidenceURL:  strings.TrimSpace(*evidence),
	})
	if err != nil {
		failSummary("", err.Error())
		os.Exit(1)
	}
	passSummary(out.VouchRequest.RequestID, requestSummary(out))
}

func runVouchStatus(args []string) {
	fs := flag.NewFlagSet("vouch status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	request := fs.String("request", "", "vouch request id")
	candidate := fs.String("candidate", "", "candidate identity")
	hat := fs.String("hat", "", "hat id")
	if err := fs.Parse(args); err != nil {
		failSummary("", err.Error())
		os.Exit(2)
	}

	var out *govsdk.VouchRequestResponse
	var err error
	switch {
	case strings.TrimSpace(*request) != "":
		out, err = newClient().VouchRequest(context.Background(), strings.TrimSpace(*request))
	case strings.TrimSpace(*candidate) != "" && strings.TrimSpace(*hat) != "":
		out, err = newClient().RequestFor(context.Background(), strings.TrimSpace(*candidate), strings.TrimSpace(*hat))
	default:
		failSummary("", "either --request or both --candidate and --hat are required")
		os.Exit(2)
	}
	if err != nil {
		failSummary("", err.Error())
		os.Exit(1)
	}
	passSummary(out.VouchRequest.RequestID, requestSummary(out))
}

func runPolicyGet(args []string) {
	fs := flag.NewFlagSet("policy get", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		failSummary("", err.Error())
		os.Exit(2)
	}

	out, err := newClient().Policies(context.Background())
	if err != nil {
		failSummary("", err.Error())
		os.Exit(1)
	}
	passSummary("", out.Policies)
}

// runPolicySet writes either the org agent policy (no --hat) or one
// hat's agent rules (--hat) from a JSON file.
func runPolicySet(args []string) {
	fs := flag.NewFlagSet("policy set", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	actor := fs.String("actor", "", "admin identity")
	file := fs.String("file", "", "path to policy json")
	hat := fs.String("hat", "", "hat id (set per-hat rules instead of the org policy)")
	if err := fs.Parse(args); err != nil {
		failSummary("", err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*actor) == "" || strings.TrimSpace(*file) == "" {
		failSummary("", "both --actor and --file are required")
		os.Exit(2)
	}
	body, err := os.ReadFile(*file)
	if err != nil {
		failSummary("", "read policy failed: "+err.Error())
		os.Exit(1)
	}

	if strings.TrimSpace(*hat) != "" {
		var rules domain.HatAgentRules
		if err := json.Unmarshal(body, &rules); err != nil {
			failSummary("", "parse hat rules failed: "+err.Error())
			os.Exit(1)
		}
		if err := newClient().SetHatAgentRules(context.Background(), strings.TrimSpace(*actor), strings.TrimSpace(*hat), rules); err != nil {
			failSummary("", err.Error())
			os.Exit(1)
		}
		passSummary("", map[string]any{"hat_id": strings.TrimSpace(*hat), "rules": rules})
		return
	}

	var policy domain.AgentPolicy
	if err := json.Unmarshal(body, &policy); err != nil {
		failSummary("", "parse agent policy failed: "+err.Error())
		os.Exit(1)
	}
	if err := newClient().SetAgentPolicy(context.Background(), strings.TrimSpace(*actor), policy); err != nil {
		failSummary("", err.Error())
		os.Exit(1)
	}
	passSummary("", map[string]any{"policy": policy})
}

func requestSummary(out *govsdk.VouchRequestResponse) map[string]any {
	r := out.VouchRequest
	return map[string]any{
		"request_id":      r.RequestID,
		"candidate":       r.Candidate,
		"hat_id":          r.Hat,
		"status":          r.Status,
		"tally":           r.Tally,
		"required_quorum": r.RequiredQuorum,
	}
}

func passSummary(requestID string, detail any) {
	fmt.Printf("{\"tool\":\"govctl\",\"status\":\"PASS\",\"request_id\":%s,\"detail\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(requestID),
		jsonBody(detail),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func failSummary(code, reason string) {
	fmt.Printf("{\"tool\":\"govctl\",\"status\":\"FAIL\",\"code\":%s,\"reason\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(code),
		jsonQuote(reason),
		time.Now().UTC().Format(time.RFC3339),
	)
}

func jsonQuote(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonBody(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
