package drawing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/chat"
	"rafflebot/internal/eventbus"
	"rafflebot/internal/storage"
	logx "rafflebot/pkg/logx"
)

type outbox struct {
	mu        sync.Mutex
	broadcast []string
	direct    []string
}

func (o *outbox) Broadcast(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcast = append(o.broadcast, text)
}

func (o *outbox) Send(ch chat.Channel, text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.direct = append(o.direct, ch.Name+"|"+text)
}

func (o *outbox) broadcasts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.broadcast...)
}

func (o *outbox) directs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.direct...)
}

type events struct {
	mu    sync.Mutex
	kinds []eventbus.Kind
}

func (e *events) Publish(ev eventbus.Event, _ bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, ev.Kind)
}

func (e *events) count(k eventbus.Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, got := range e.kinds {
		if got == k {
			n++
		}
	}
	return n
}

type results struct {
	mu   sync.Mutex
	rows []storage.Result
}

func (r *results) Append(_ context.Context, res storage.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, res)
	return nil
}

func (r *results) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row.Line())
	}
	return out
}

var room = chat.Channel{Platform: chat.Twitch, Name: "room"}

type fixture struct {
	svc *Service
	out *outbox
	ev  *events
	res *results
}

func newFixture(t *testing.T, cfg Config, opts ...Option) fixture {
	t.Helper()
	f := fixture{out: &outbox{}, ev: &events{}, res: &results{}}
	opts = append([]Option{WithResultLog(f.res)}, opts...)
	f.svc = New(f.out, f.ev, cfg, logx.Nop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.svc.Stop(ctx)
	})
	return f
}

func TestOpenAnnounces(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.svc.Open("sketch from ann", 10*time.Minute)

	assert.Equal(t, []string{"Raffle is now open for sketch from ann for 10 minutes! Type !enter to enter."}, f.out.broadcasts())
	snap := f.svc.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.NotEmpty(t, snap.ID)
}

func TestOpenIgnoresBlankPrize(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.svc.Open("   ", time.Minute)
	assert.Empty(t, f.out.broadcasts())
	assert.Equal(t, Closed, f.svc.Snapshot().State)
}

func TestEnterRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{RespondToEntry: true})

	assert.False(t, f.svc.Enter("early", room), "closed drawing accepts nothing")

	f.svc.Open("sketch from ann", time.Minute)
	assert.True(t, f.svc.Enter("Alice", room))
	assert.False(t, f.svc.Enter("ALICE", room))
	assert.True(t, f.svc.Enter("bob", room))

	assert.Equal(t, []chat.Identity{{Platform: chat.Twitch, User: "alice"}, {Platform: chat.Twitch, User: "bob"}}, f.svc.Snapshot().Entrants)
	assert.Equal(t, []string{"room|@alice you have entered!", "room|@bob you have entered!"}, f.out.directs())
}

func TestPickWithoutDrawingIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.svc.Pick()
	assert.Empty(t, f.out.broadcasts())
	assert.Zero(t, f.ev.count(eventbus.ReadyForNext))
}

func TestNoEntriesResolvesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.svc.Open("sketch from ann", time.Minute)
	f.svc.Pick()

	assert.Equal(t, []string{"sketch from ann winner is NO_ENTRIES!"}, f.res.lines())
	assert.Contains(t, f.out.broadcasts(), "Raffle for prize sketch from ann ended with no claims. Prize may appear again in the future")
	assert.Equal(t, 1, f.ev.count(eventbus.ReadyForNext))
	assert.Equal(t, Closed, f.svc.Snapshot().State)

	last, ok := f.svc.Last()
	require.True(t, ok)
	assert.Equal(t, storage.OutcomeNoEntries, last.Outcome)

	// A second pick finds nothing open.
	f.svc.Pick()
	assert.Len(t, f.res.lines(), 1)
	assert.Equal(t, 1, f.ev.count(eventbus.ReadyForNext))
}

func TestWinnerComesFromEntrants(t *testing.T) {
	t.Parallel()
	for i := 0; i < 20; i++ {
		f := newFixture(t, Config{ClaimWindow: time.Hour})
		f.svc.Open("sketch from ann", time.Minute)
		entrants := map[string]bool{"a": true, "b": true, "c": true}
		for u := range entrants {
			f.svc.Enter(u, room)
		}
		f.svc.Pick()
		snap := f.svc.Snapshot()
		require.Equal(t, WinnerPicked, snap.State)
		assert.True(t, entrants[snap.Winner], "winner %q not an entrant", snap.Winner)
		assert.NotContains(t, snap.Entrants, snap.WinnerID)
		assert.Len(t, snap.Entrants, 2)
	}
}

func TestClaimByWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ClaimWindow: 30 * time.Millisecond, WinnerInstructions: "DM the artist."}, WithPicker(func(int) int { return 0 }))
	f.svc.Open("sketch from ann", time.Minute)
	f.svc.Enter("alice", room)
	f.svc.Enter("bob", room)
	f.svc.Pick()
	require.Equal(t, "alice", f.svc.Snapshot().Winner)

	f.svc.OnCommand(chat.Command{Name: "confirm", User: "Alice", Channel: room})

	assert.Contains(t, f.out.broadcasts(), "sketch from ann claimed by @alice! Congrats! DM the artist.")
	assert.Equal(t, []string{"sketch from ann winner is alice"}, f.res.lines())
	assert.Equal(t, 1, f.ev.count(eventbus.ReadyForNext))
	last, _ := f.svc.Last()
	assert.Equal(t, storage.OutcomeClaimed, last.Outcome)

	// The claim window would have elapsed by now; no reroll may fire.
	time.Sleep(100 * time.Millisecond)
	for _, b := range f.out.broadcasts() {
		assert.NotContains(t, b, "@bob")
	}
	assert.Equal(t, 1, f.ev.count(eventbus.ReadyForNext))
}

func TestClaimBySomeoneElse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ClaimWindow: time.Hour}, WithPicker(func(int) int { return 0 }))
	f.svc.Open("sketch from ann", time.Minute)
	f.svc.Enter("alice", room)
	f.svc.Enter("bob", room)
	f.svc.Pick()
	before := f.svc.Snapshot()

	assert.False(t, f.svc.Claim("bob", room))
	assert.Equal(t, before, f.svc.Snapshot())
	assert.Equal(t, []string{"room|Sorry, @bob, it is too late to claim the prize."}, f.out.directs())
	assert.Empty(t, f.res.lines())
	assert.Zero(t, f.ev.count(eventbus.ReadyForNext))
}

func TestClaimWithoutWinnerIsIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.svc.Open("sketch from ann", time.Minute)
	f.svc.Enter("alice", room)
	assert.False(t, f.svc.Claim("alice", room))
	assert.Empty(t, f.out.directs())
}

func TestSameNameOnAnotherPlatformIsAnotherEntrant(t *testing.T) {
	t.Parallel()
	group := chat.Channel{Platform: chat.Telegram, Name: "-100"}
	f := newFixture(t, Config{ClaimWindow: time.Hour}, WithPicker(func(int) int { return 0 }))
	f.svc.Open("sketch from ann", time.Minute)

	require.True(t, f.svc.Enter("alice", room))
	assert.True(t, f.svc.Enter("@Alice", group))
	assert.False(t, f.svc.Enter("alice", group))
	require.Len(t, f.svc.Snapshot().Entrants, 2)

	f.svc.Pick()
	snap := f.svc.Snapshot()
	require.Equal(t, chat.Identity{Platform: chat.Twitch, User: "alice"}, snap.WinnerID)
	assert.Equal(t, "alice", snap.Winner)

	assert.False(t, f.svc.Claim("alice", group))
	assert.Equal(t, WinnerPicked, f.svc.Snapshot().State)
	assert.Empty(t, f.res.lines())
	assert.Zero(t, f.ev.count(eventbus.ReadyForNext))

	assert.True(t, f.svc.Claim("alice", room))
	assert.Equal(t, []string{"sketch from ann winner is alice"}, f.res.lines())
}

func TestRerollNeverRepeatsAndEndsWithNoEntries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ClaimWindow: 20 * time.Millisecond})
	f.svc.Open("sketch from ann", time.Minute)
	for _, u := range []string{"a", "b", "c"} {
		f.svc.Enter(u, room)
	}
	f.svc.Pick()

	require.Eventually(t, func() bool { return f.ev.count(eventbus.ReadyForNext) == 1 }, 3*time.Second, 5*time.Millisecond)

	seen := map[string]int{}
	for _, b := range f.out.broadcasts() {
		for _, u := range []string{"a", "b", "c"} {
			if b == "Raffle winner of sketch from ann is @"+u+"! Type !confirm within 1 second to confirm!" {
				seen[u]++
			}
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, seen)
	assert.Equal(t, []string{"sketch from ann winner is NO_ENTRIES!"}, f.res.lines())
}

func TestManualPickRerolls(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ClaimWindow: time.Hour}, WithPicker(func(int) int { return 0 }))
	f.svc.Open("sketch from ann", time.Minute)
	f.svc.Enter("alice", room)
	f.svc.Enter("bob", room)
	f.svc.Pick()
	f.svc.Pick()

	snap := f.svc.Snapshot()
	assert.Equal(t, "bob", snap.Winner)
	assert.Equal(t, 1, snap.Rerolls)
	assert.False(t, f.svc.Claim("alice", room))
	assert.True(t, f.svc.Claim("bob", room))
}

func TestOpenAfterClaimStartsFresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{ClaimWindow: time.Hour})
	f.svc.Open("first", time.Minute)
	f.svc.Enter("alice", room)
	f.svc.Pick()
	require.True(t, f.svc.Claim("alice", room))

	f.svc.Open("second", time.Minute)
	snap := f.svc.Snapshot()
	assert.Equal(t, "second", snap.Prize)
	assert.Empty(t, snap.Entrants)
	assert.Empty(t, snap.Winner)
}

func TestOnJoinedReplaysAnnouncement(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	late := chat.Channel{Platform: chat.Twitch, Name: "late"}

	f.svc.OnJoined(late)
	assert.Empty(t, f.out.directs())

	f.svc.Open("sketch from ann", 5*time.Minute)
	f.svc.OnJoined(late)
	assert.Equal(t, []string{"late|Raffle is now open for sketch from ann for 5 minutes! Type !enter to enter."}, f.out.directs())
}

func TestChatNotReadyRefusesDrawings(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.svc.SetChatReady(false)
	f.svc.Open("sketch from ann", time.Minute)
	f.svc.Pick()
	assert.Empty(t, f.out.broadcasts())
	assert.Zero(t, f.ev.count(eventbus.ReadyForNext))
}

func TestHumanWindow(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "5 minutes", humanWindow(5*time.Minute))
	assert.Equal(t, "1 minute", humanWindow(time.Minute+10*time.Second))
	assert.Equal(t, "30 seconds", humanWindow(30*time.Second))
	assert.Equal(t, "1 second", humanWindow(20*time.Millisecond))
}
