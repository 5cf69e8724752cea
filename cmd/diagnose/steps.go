package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"dncproxy/internal/mautic"
)

type Status string

const (
	Pass Status = "PASS"
	Fail Status = "FAIL"
	Warn Status = "WARN"
	Skip Status = "SKIP"
)

func (s Status) icon() string {
	switch s {
	case Pass:
		return "+"
	case Fail:
		return "!"
	case Warn:
		return "~"
	case Skip:
		return "-"
	}
	return "?"
}

// Failure suspects a run can confirm or clear.
var suspectLabels = map[string]string{
	"A": "DNC endpoint returns 200 but body contains errors",
	"B": "DNC not persisted after successful response",
	"F": "Idempotency issue on repeated DNC add",
}

type StepResult struct {
	Num       int
	Name      string
	Status    Status
	Notes     string
	Confirmed []string
	Cleared   []string
}

// Directory is the slice of the Mautic client the diagnosis replays.
type Directory interface {
	Ping(ctx context.Context) error
	SearchCandidates(ctx context.Context, email string) ([]mautic.Contact, error)
	GetContact(ctx context.Context, id string) (*mautic.Contact, error)
	AddDNC(ctx context.Context, id, comments string) (*mautic.DNCResult, error)
}

type diagnosis struct {
	dir   Directory
	email string
	out   io.Writer

	candidates  []mautic.Contact
	contactID   string
	pre         *mautic.Contact
	step5Status int
}

// Diagnose replays the unsubscribe flow step by step. Steps after the exact
// match are skipped when no contact was identified.
func Diagnose(ctx context.Context, dir Directory, email string, out io.Writer) []StepResult {
	d := &diagnosis{dir: dir, email: strings.ToLower(strings.TrimSpace(email)), out: out}
	steps := []func(context.Context) StepResult{
		d.connectivity,
		d.contactSearch,
		d.exactMatch,
		d.preDNCState,
		d.dncAdd,
		d.postDNCVerify,
		d.idempotency,
	}
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		results = append(results, step(ctx))
	}
	return results
}

func (d *diagnosis) banner(num int, name string) {
	line := strings.Repeat("=", 70)
	fmt.Fprintf(d.out, "\n%s\n  STEP %d: %s\n%s\n", line, num, name, line)
}

func (d *diagnosis) connectivity(ctx context.Context) StepResult {
	const num, name = 1, "Connectivity"
	d.banner(num, name)
	err := d.dir.Ping(ctx)
	var statusErr *mautic.StatusError
	switch {
	case err == nil:
		return StepResult{Num: num, Name: name, Status: Pass, Notes: "Mautic reachable, credentials valid"}
	case errors.As(err, &statusErr) && statusErr.StatusCode == 401:
		return StepResult{Num: num, Name: name, Status: Fail, Notes: "Authentication failed (HTTP 401)"}
	case errors.As(err, &statusErr):
		return StepResult{Num: num, Name: name, Status: Fail, Notes: fmt.Sprintf("Unexpected status %d", statusErr.StatusCode)}
	default:
		fmt.Fprintf(d.out, "  ERROR: %v\n", err)
		return StepResult{Num: num, Name: name, Status: Fail, Notes: err.Error()}
	}
}

func (d *diagnosis) contactSearch(ctx context.Context) StepResult {
	const num, name = 2, "Contact search"
	d.banner(num, name)
	candidates, err := d.dir.SearchCandidates(ctx, d.email)
	if err != nil {
		fmt.Fprintf(d.out, "  ERROR: %v\n", err)
		return StepResult{Num: num, Name: name, Status: Fail, Notes: "Search failed: " + err.Error()}
	}
	d.candidates = candidates
	fmt.Fprintf(d.out, "  Contacts returned: %d\n", len(candidates))
	if len(candidates) == 0 {
		return StepResult{Num: num, Name: name, Status: Fail, Notes: "No contacts found for this email"}
	}
	return StepResult{Num: num, Name: name, Status: Pass, Notes: fmt.Sprintf("%d candidate(s) returned", len(candidates))}
}

func (d *diagnosis) exactMatch(context.Context) StepResult {
	const num, name = 3, "Exact match"
	d.banner(num, name)
	if len(d.candidates) == 0 {
		fmt.Fprintln(d.out, "  No candidates to check (step 2 returned none)")
		return StepResult{Num: num, Name: name, Status: Skip, Notes: "No candidates from step 2"}
	}
	for _, c := range d.candidates {
		fmt.Fprintf(d.out, "  Candidate ID=%s  email=%q\n", c.ID, strings.ToLower(c.Email))
	}
	match, ok := mautic.ExactMatch(d.candidates, d.email)
	if !ok {
		fmt.Fprintln(d.out, "  No exact email match among candidates")
		return StepResult{Num: num, Name: name, Status: Fail, Notes: "API returned contacts but none matched exactly"}
	}
	d.contactID = match.ID
	fmt.Fprintf(d.out, "  >> Exact match found: contact_id=%s\n", match.ID)
	return StepResult{Num: num, Name: name, Status: Pass, Notes: "contact_id=" + match.ID}
}

func (d *diagnosis) skipped(num int, name string) (StepResult, bool) {
	if d.contactID != "" {
		return StepResult{}, false
	}
	fmt.Fprintln(d.out, "  Skipped, no contact_id from step 3")
	return StepResult{Num: num, Name: name, Status: Skip, Notes: "No contact_id"}, true
}

func (d *diagnosis) preDNCState(ctx context.Context) StepResult {
	const num, name = 4, "Pre-DNC state"
	d.banner(num, name)
	if r, skip := d.skipped(num, name); skip {
		return r
	}
	contact, err := d.dir.GetContact(ctx, d.contactID)
	if err != nil {
		return StepResult{Num: num, Name: name, Status: Fail, Notes: err.Error()}
	}
	d.pre = contact
	d.printDNC(contact)
	if contact.HasEmailDNC() {
		return StepResult{Num: num, Name: name, Status: Warn, Notes: "Already on email DNC before add"}
	}
	return StepResult{Num: num, Name: name, Status: Pass, Notes: "Not on email DNC (as expected)"}
}

func (d *diagnosis) dncAdd(ctx context.Context) StepResult {
	const num, name = 5, "DNC add"
	d.banner(num, name)
	if r, skip := d.skipped(num, name); skip {
		return r
	}
	res, err := d.dir.AddDNC(ctx, d.contactID, mautic.DefaultComment+" (diagnose)")
	if err != nil {
		fmt.Fprintf(d.out, "  ERROR: %v\n", err)
		return StepResult{Num: num, Name: name, Status: Fail, Notes: "Request error: " + err.Error()}
	}
	d.step5Status = res.StatusCode
	d.printDNCResult(res)

	r := StepResult{Num: num, Name: name, Status: Pass}
	notes := []string{fmt.Sprintf("HTTP %d", res.StatusCode)}
	if res.Errors != "" {
		fmt.Fprintf(d.out, "\n  !! ERRORS in response body despite HTTP %d: %s\n", res.StatusCode, res.Errors)
		notes = append(notes, "Body contains errors: "+res.Errors)
		r.Confirmed = []string{"A"}
	} else {
		r.Cleared = []string{"A"}
	}
	if !res.Accepted() {
		r.Status = Fail
	}
	r.Notes = strings.Join(notes, "; ")
	return r
}

func (d *diagnosis) postDNCVerify(ctx context.Context) StepResult {
	const num, name = 6, "Post-DNC verify"
	d.banner(num, name)
	if r, skip := d.skipped(num, name); skip {
		return r
	}
	contact, err := d.dir.GetContact(ctx, d.contactID)
	if err != nil {
		return StepResult{Num: num, Name: name, Status: Fail, Notes: err.Error()}
	}
	d.printDNC(contact)
	if d.pre != nil {
		fmt.Fprintf(d.out, "  Pre-DNC had email DNC:  %t\n", d.pre.HasEmailDNC())
	}
	fmt.Fprintf(d.out, "  Post-DNC has email DNC: %t\n", contact.HasEmailDNC())
	if contact.HasEmailDNC() {
		return StepResult{Num: num, Name: name, Status: Pass, Notes: "DNC persisted, email channel present", Cleared: []string{"B"}}
	}
	return StepResult{Num: num, Name: name, Status: Fail, Notes: "DNC NOT persisted, email channel missing after add", Confirmed: []string{"B"}}
}

func (d *diagnosis) idempotency(ctx context.Context) StepResult {
	const num, name = 7, "Idempotency"
	d.banner(num, name+" (re-add DNC)")
	if r, skip := d.skipped(num, name); skip {
		return r
	}
	res, err := d.dir.AddDNC(ctx, d.contactID, mautic.DefaultComment+" (diagnose re-add)")
	if err != nil {
		fmt.Fprintf(d.out, "  ERROR: %v\n", err)
		return StepResult{Num: num, Name: name, Status: Fail, Notes: "Request error: " + err.Error()}
	}
	d.printDNCResult(res)

	r := StepResult{Num: num, Name: name}
	notes := []string{fmt.Sprintf("HTTP %d", res.StatusCode)}
	if d.step5Status != 0 && res.StatusCode != d.step5Status {
		notes = append(notes, fmt.Sprintf("Status differs from step 5 (%d -> %d)", d.step5Status, res.StatusCode))
	}
	if res.Errors != "" {
		fmt.Fprintf(d.out, "\n  !! ERRORS on re-add: %s\n", res.Errors)
		notes = append(notes, "Errors on re-add: "+res.Errors)
		r.Confirmed = []string{"F"}
	} else {
		r.Cleared = []string{"F"}
	}
	switch {
	case res.Accepted():
		r.Status = Pass
	case res.Errors != "":
		r.Status = Warn
	default:
		r.Status = Warn
		notes = append(notes, "Non-2xx on re-add")
	}
	r.Notes = strings.Join(notes, "; ")
	return r
}

func (d *diagnosis) printDNC(c *mautic.Contact) {
	if len(c.DoNotContact) == 0 {
		fmt.Fprintln(d.out, "  doNotContact entries: (none)")
		return
	}
	fmt.Fprintln(d.out, "  doNotContact entries:")
	for _, e := range c.DoNotContact {
		fmt.Fprintf(d.out, "    channel=%s reason=%d comments=%q\n", e.Channel, e.Reason, e.Comments)
	}
}

func (d *diagnosis) printDNCResult(res *mautic.DNCResult) {
	fmt.Fprintf(d.out, "  Status:  %d\n", res.StatusCode)
	body := string(res.Body)
	if len(body) > 2000 {
		body = body[:2000]
	}
	fmt.Fprintf(d.out, "  Body:    %s\n", body)
}

// PrintSummary writes the step table and the suspect verdicts. A suspect
// that any step confirmed is never listed as cleared.
func PrintSummary(out io.Writer, results []StepResult) {
	line := strings.Repeat("=", 70)
	fmt.Fprintf(out, "\n%s\n  SUMMARY\n%s\n", line, line)
	fmt.Fprintf(out, "  %-6s %-25s %-8s NOTES\n", "STEP", "NAME", "STATUS")
	fmt.Fprintf(out, "  %-6s %-25s %-8s -----\n", "----", "----", "------")
	confirmed, cleared := map[string]bool{}, map[string]bool{}
	for _, r := range results {
		row := fmt.Sprintf("  %-6d %-25s [%s] %-4s", r.Num, r.Name, r.Status.icon(), r.Status)
		if r.Notes != "" {
			row += "   " + r.Notes
		}
		fmt.Fprintln(out, row)
		for _, s := range r.Confirmed {
			confirmed[s] = true
		}
		for _, s := range r.Cleared {
			cleared[s] = true
		}
	}
	for s := range confirmed {
		delete(cleared, s)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  SUSPECTS CONFIRMED: %s\n", suspectList(confirmed))
	fmt.Fprintf(out, "  SUSPECTS CLEARED:   %s\n", suspectList(cleared))
	fmt.Fprintln(out)
}

func suspectList(set map[string]bool) string {
	if len(set) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s (%s)", k, suspectLabels[k])
	}
	return strings.Join(parts, ", ")
}

// ExitCode is 2 when any step failed.
func ExitCode(results []StepResult) int {
	for _, r := range results {
		if r.Status == Fail {
			return 2
		}
	}
	return 0
}
