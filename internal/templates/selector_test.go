package templates

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulknotif/internal/domain"
)

// seqPicker returns the queued indexes in order and records every draw.
type seqPicker struct {
	next  []int
	draws []int
}

func (p *seqPicker) Pick(n int) int {
	p.draws = append(p.draws, n)
	if len(p.next) == 0 {
		return 0
	}
	i := p.next[0]
	p.next = p.next[1:]
	return i % n
}

var feb2025 = time.Date(2025, time.February, 1, 3, 30, 0, 0, time.UTC)

func newSelector(p Picker) *Selector {
	return New(WithClock(clockwork.NewFakeClockAt(feb2025)), WithPicker(p))
}

func TestPoolSizes(t *testing.T) {
	assert.Equal(t, 4, PoolSize(domain.KindWeekly))
	assert.Equal(t, 2, PoolSize(domain.KindMonthly))
	assert.Equal(t, 1, PoolSize(domain.KindYearly))
	assert.Equal(t, 10, PoolSize(domain.KindTest))
	assert.Equal(t, 1, PoolSize(domain.KindCustom))
	assert.Zero(t, PoolSize(domain.Kind("hourly")))
}

func TestWeeklyVariantDrawnOncePerRun(t *testing.T) {
	p := &seqPicker{next: []int{2}}
	plan, err := newSelector(p).Plan(domain.KindWeekly, "")
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Variant)

	a := plan.Render(domain.Recipient{Name: "Asha"})
	b := plan.Render(domain.Recipient{Name: "Ravi"})

	assert.Equal(t, []int{4}, p.draws, "one draw for the whole run")
	assert.Contains(t, a, "Monday Boost")
	assert.Contains(t, b, "Monday Boost")
	assert.Contains(t, a, "*Asha*")
	assert.Contains(t, b, "*Ravi*")
}

func TestMonthlyAndYearlySubstitutePeriod(t *testing.T) {
	sel := newSelector(&seqPicker{next: []int{1}})

	monthly, err := sel.Plan(domain.KindMonthly, "")
	require.NoError(t, err)
	body := monthly.Render(domain.Recipient{Name: "Asha"})
	assert.Contains(t, body, "Monthly Review - February")

	yearly, err := sel.Plan(domain.KindYearly, "")
	require.NoError(t, err)
	assert.Contains(t, yearly.Render(domain.Recipient{Name: "Asha"}), "Happy New Year 2025!")
}

func TestPeriodUsesConfiguredLocation(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	// 2024-12-31 20:00 UTC is already New Year in India
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.December, 31, 20, 0, 0, 0, time.UTC))
	sel := New(WithClock(clock), WithLocation(ist), WithPicker(&seqPicker{}))

	plan, err := sel.Plan(domain.KindYearly, "")
	require.NoError(t, err)
	assert.Contains(t, plan.Render(domain.Recipient{Name: "A"}), "Happy New Year 2025!")
}

func TestCustomReplacesEveryNameToken(t *testing.T) {
	plan, err := newSelector(&seqPicker{}).Plan(domain.KindCustom, "Hi {name}! {name}, exams start Monday.")
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha! Asha, exams start Monday.", plan.Render(domain.Recipient{Name: "Asha"}))
}

func TestCustomRequiresBody(t *testing.T) {
	_, err := newSelector(&seqPicker{}).Plan(domain.KindCustom, "")
	assert.ErrorIs(t, err, domain.ErrMissingMessage)
}

func TestTestVariantDrawnPerRecipient(t *testing.T) {
	p := &seqPicker{next: []int{0, 7}}
	plan, err := newSelector(p).Plan(domain.KindTest, "")
	require.NoError(t, err)
	assert.Equal(t, -1, plan.Variant)

	first := plan.Render(domain.Recipient{Name: "Asha"})
	second := plan.Render(domain.Recipient{Name: "Ravi"})

	assert.Equal(t, []int{10, 10}, p.draws)
	assert.Contains(t, first, "Test Message 1")
	assert.Contains(t, second, "Quick Test")
	assert.Contains(t, first, "3:30:00 AM")
}

func TestTestPlanByIndex(t *testing.T) {
	sel := newSelector(&seqPicker{})
	plan, err := sel.TestPlan(9)
	require.NoError(t, err)
	assert.Contains(t, plan.Render(domain.Recipient{Name: "Asha"}), "Loop Test")

	_, err = sel.TestPlan(10)
	assert.ErrorIs(t, err, ErrVariantOutOfRange)
	_, err = sel.TestPlan(-1)
	assert.ErrorIs(t, err, ErrVariantOutOfRange)
}

func TestWelcomeIncludesProfile(t *testing.T) {
	plan, err := newSelector(&seqPicker{}).Plan(domain.KindWelcome, "")
	require.NoError(t, err)
	body := plan.Render(domain.Recipient{Name: "Asha", InstitutionName: "City College", ClassYear: "2nd year", Phone: "+911234"})
	for _, want := range []string{"Asha", "City College", "2nd year", "+911234"} {
		assert.Contains(t, body, want)
	}
}

func TestMalformedNamePassesThrough(t *testing.T) {
	plan, err := newSelector(&seqPicker{}).Plan(domain.KindWeekly, "")
	require.NoError(t, err)
	body := plan.Render(domain.Recipient{Name: "  *{weird}\n"})
	assert.True(t, strings.Contains(body, "  *{weird}\n"))
}

func TestUnknownKind(t *testing.T) {
	_, err := newSelector(&seqPicker{}).Plan(domain.Kind("hourly"), "")
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}

func TestSeededPickerIsDeterministic(t *testing.T) {
	a, b := NewSeededPicker(42), NewSeededPicker(42)
	for i := 0; i < 20; i++ {
		x := a.Pick(10)
		assert.Equal(t, x, b.Pick(10))
		assert.True(t, x >= 0 && x < 10)
	}
}
