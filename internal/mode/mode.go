// Package mode models the process-wide, one-shot Creditors/Debtors/
// Accounts tagged variant that everything downstream of startup reads
// but never mutates.
package mode

import (
	"fmt"
	"os"
	"regexp"

	"github.com/swaptacular/swpt-apiproxy/internal/numeric"
)

// Kind tags which of the three sharding domains this process serves.
type Kind int

const (
	Creditors Kind = iota
	Debtors
	Accounts
)

func (k Kind) String() string {
	switch k {
	case Creditors:
		return "Creditors"
	case Debtors:
		return "Debtors"
	case Accounts:
		return "Accounts"
	default:
		return "Unknown"
	}
}

// ReservationType is the JSON "type" field of a reserve request body.
type ReservationType string

// Mode bundles everything that is derived once at startup from the
// environment and never changes across config reloads: which regexes
// classify a path, how many ids it carries, how the enumerate and
// reserve paths are built, and the interval random reservations are
// drawn from.
type Mode struct {
	Kind Kind

	ShardedPath   *regexp.Regexp
	GlobalPath    *regexp.Regexp // nil for Accounts
	EnumeratePath *regexp.Regexp // nil for Accounts
	InvalidPath   string         // "" for Accounts
	ReservePath   string         // "" for Accounts

	ReservationType ReservationType
	MinID, MaxID    int64 // reservation interval; zero value for Accounts
}

// EnumeratePathBuilder renders the mode's enumerate path for id with
// the given config-version query parameter.
func (m Mode) EnumeratePathBuilder(id string, v string) string {
	switch m.Kind {
	case Creditors:
		return fmt.Sprintf("/creditors/%s/enumerate?v=%s", id, v)
	case Debtors:
		return fmt.Sprintf("/debtors/%s/enumerate?v=%s", id, v)
	default:
		panic("mode: enumerate path has no builder for " + m.Kind.String())
	}
}

// ReserveBuilder renders the mode's reserve path for a candidate id,
// used only by the reserve-random handler.
func (m Mode) ReserveBuilder(id string) string {
	switch m.Kind {
	case Creditors:
		return "/creditors/" + id + "/reserve"
	case Debtors:
		return "/debtors/" + id + "/reserve"
	default:
		panic("mode: reserve path has no builder for " + m.Kind.String())
	}
}

var (
	creditorsSharded   = regexp.MustCompile(`^/creditors/(\d{1,20})/`)
	creditorsGlobal    = regexp.MustCompile(`^/creditors/\.(wallet|list)$`)
	creditorsEnumerate = regexp.MustCompile(`^/creditors/(\d{1,20})/enumerate`)

	debtorsSharded   = regexp.MustCompile(`^/debtors/(\d{1,20})/`)
	debtorsGlobal    = regexp.MustCompile(`^/debtors/\.(debtor|list)$`)
	debtorsEnumerate = regexp.MustCompile(`^/debtors/(\d{1,20})/enumerate`)

	accountsSharded = regexp.MustCompile(`^/accounts/(\d{1,20})/(\d{1,20})/`)
)

func newCreditors(min, max int64) Mode {
	return Mode{
		Kind:            Creditors,
		ShardedPath:     creditorsSharded,
		GlobalPath:      creditorsGlobal,
		EnumeratePath:   creditorsEnumerate,
		InvalidPath:     "/creditors/.invalid-path",
		ReservePath:     "/creditors/.creditor-reserve",
		ReservationType: "CreditorReservationRequest",
		MinID:           min,
		MaxID:           max,
	}
}

func newDebtors(min, max int64) Mode {
	return Mode{
		Kind:            Debtors,
		ShardedPath:     debtorsSharded,
		GlobalPath:      debtorsGlobal,
		EnumeratePath:   debtorsEnumerate,
		InvalidPath:     "/debtors/.invalid-path",
		ReservePath:     "/debtors/.debtor-reserve",
		ReservationType: "DebtorReservationRequest",
		MinID:           min,
		MaxID:           max,
	}
}

func newAccounts() Mode {
	return Mode{
		Kind:        Accounts,
		ShardedPath: accountsSharded,
	}
}

// env abstracts os.LookupEnv so tests can supply a fake environment
// without mutating process-global state.
type env interface {
	Lookup(key string) (string, bool)
}

// osEnv implements env over the real process environment.
type osEnv struct{}

func (osEnv) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// FromOSEnv selects the process mode from the real environment; see
// FromEnv for the selection rules.
func FromOSEnv() (Mode, error) {
	return FromEnv(osEnv{})
}

// FromEnv selects the process mode from the four creditor/debtor id
// environment variables, per spec: both of a pair set selects that
// mode; none set selects Accounts; any other combination, or an
// invalid id, or min > max, is a fatal startup error.
func FromEnv(e env) (Mode, error) {
	cMin, cMinOK := e.Lookup("MIN_CREDITOR_ID")
	cMax, cMaxOK := e.Lookup("MAX_CREDITOR_ID")
	dMin, dMinOK := e.Lookup("MIN_DEBTOR_ID")
	dMax, dMaxOK := e.Lookup("MAX_DEBTOR_ID")

	creditorPair := cMinOK || cMaxOK
	debtorPair := dMinOK || dMaxOK

	if creditorPair != (cMinOK && cMaxOK) {
		return Mode{}, fmt.Errorf("mode: MIN_CREDITOR_ID and MAX_CREDITOR_ID must both be set or both unset")
	}
	if debtorPair != (dMinOK && dMaxOK) {
		return Mode{}, fmt.Errorf("mode: MIN_DEBTOR_ID and MAX_DEBTOR_ID must both be set or both unset")
	}
	if creditorPair && debtorPair {
		return Mode{}, fmt.Errorf("mode: cannot set both creditor and debtor id ranges")
	}

	switch {
	case creditorPair:
		min, max, err := parseInterval(cMin, cMax)
		if err != nil {
			return Mode{}, err
		}
		return newCreditors(min, max), nil
	case debtorPair:
		min, max, err := parseInterval(dMin, dMax)
		if err != nil {
			return Mode{}, err
		}
		return newDebtors(min, max), nil
	default:
		return newAccounts(), nil
	}
}

func parseInterval(minS, maxS string) (int64, int64, error) {
	min, err := numeric.ParseI64(minS)
	if err != nil {
		return 0, 0, fmt.Errorf("mode: invalid minimum id %q: %w", minS, err)
	}
	max, err := numeric.ParseI64(maxS)
	if err != nil {
		return 0, 0, fmt.Errorf("mode: invalid maximum id %q: %w", maxS, err)
	}
	if min > max {
		return 0, 0, fmt.Errorf("mode: minimum id %d is greater than maximum id %d", min, max)
	}
	return min, max, nil
}
