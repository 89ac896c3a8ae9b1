// Package templates renders notification bodies from fixed variant pools.
//
// Weekly, monthly and yearly campaigns draw one variant per run and apply it to
// every recipient. Test traffic draws a variant per recipient. Custom bodies are
// supplied by the caller and only get {name} substituted.
package templates

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"bulknotif/internal/domain"
	"bulknotif/internal/util"
)

var ErrVariantOutOfRange = errors.New("template variant out of range")

// Picker draws an index in [0, n).
type Picker interface {
	Pick(n int) int
}

type randomPicker struct{}

func (randomPicker) Pick(n int) int { return rand.IntN(n) }

// RandomPicker draws uniformly using the runtime-seeded generator.
func RandomPicker() Picker { return randomPicker{} }

// SeededPicker is deterministic for a given seed; safe for concurrent use.
type SeededPicker struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewSeededPicker(seed uint64) *SeededPicker {
	return &SeededPicker{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *SeededPicker) Pick(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r.IntN(n)
}

type Selector struct {
	clock  clockwork.Clock
	loc    *time.Location
	picker Picker
}

type Option func(*Selector)

func WithClock(c clockwork.Clock) Option { return func(s *Selector) { s.clock = c } }

func WithLocation(loc *time.Location) Option { return func(s *Selector) { s.loc = loc } }

func WithPicker(p Picker) Option { return func(s *Selector) { s.picker = p } }

func New(opts ...Option) *Selector {
	s := &Selector{clock: clockwork.NewRealClock(), loc: time.UTC, picker: RandomPicker()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PoolSize reports how many variants kind draws from.
func PoolSize(kind domain.Kind) int {
	switch kind {
	case domain.KindWeekly:
		return len(weeklyPool)
	case domain.KindMonthly:
		return len(monthlyPool)
	case domain.KindYearly:
		return len(yearlyPool)
	case domain.KindTest:
		return len(testPool)
	case domain.KindCustom, domain.KindWelcome:
		return 1
	}
	return 0
}

// Plan fixes the variant and period for one run. Variant is -1 when the kind
// draws per recipient.
type Plan struct {
	Kind    domain.Kind
	Variant int
	Period  time.Time

	sel    *Selector
	render RenderFunc
	custom string
}

// Plan prepares rendering for a run of kind. customBody is required for custom runs
// and ignored otherwise.
func (s *Selector) Plan(kind domain.Kind, customBody string) (*Plan, error) {
	p := &Plan{Kind: kind, Variant: -1, Period: s.now(), sel: s}
	switch kind {
	case domain.KindWeekly:
		p.pick(s.picker, weeklyPool)
	case domain.KindMonthly:
		p.pick(s.picker, monthlyPool)
	case domain.KindYearly:
		p.pick(s.picker, yearlyPool)
	case domain.KindTest:
	case domain.KindCustom:
		if customBody == "" {
			return nil, domain.ErrMissingMessage
		}
		p.custom = customBody
	case domain.KindWelcome:
		p.Variant = 0
		p.render = welcome
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	return p, nil
}

// TestPlan pins test traffic to one variant.
func (s *Selector) TestPlan(index int) (*Plan, error) {
	if index < 0 || index >= len(testPool) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrVariantOutOfRange, index, len(testPool))
	}
	return &Plan{Kind: domain.KindTest, Variant: index, Period: s.now(), sel: s, render: testPool[index]}, nil
}

func (p *Plan) pick(picker Picker, pool []RenderFunc) {
	p.Variant = picker.Pick(len(pool))
	p.render = pool[p.Variant]
}

// Render produces the body for one recipient. It never fails; recipient data
// is substituted as-is.
func (p *Plan) Render(r domain.Recipient) string {
	if p.custom != "" {
		return util.RenderTemplate(p.custom, map[string]string{"name": r.Name})
	}
	v := Vars{
		Name:        r.Name,
		Date:        p.Period.Format("2/1/2006"),
		Month:       p.Period.Month().String(),
		Year:        p.Period.Year(),
		Institution: r.InstitutionName,
		ClassYear:   r.ClassYear,
		Phone:       r.Phone,
	}
	render := p.render
	if render == nil {
		// test traffic: fresh variant and timestamp per recipient
		render = testPool[p.sel.picker.Pick(len(testPool))]
	}
	if p.Kind == domain.KindTest {
		v.Time = p.sel.now().Format("3:04:05 PM")
	}
	return render(v)
}

func (s *Selector) now() time.Time {
	return s.clock.Now().In(s.loc)
}
