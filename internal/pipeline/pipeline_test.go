package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/astra/internal/cache"
	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/convo"
	"github.com/nextlevelbuilder/astra/internal/imagegen"
	"github.com/nextlevelbuilder/astra/internal/personality"
	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/providers"
	"github.com/nextlevelbuilder/astra/internal/store"
)

const testBotID platform.UserID = 555

type sentMessage struct {
	Channel platform.ChannelID
	Content string
}

type fakeActions struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeActions) SendMessage(ctx context.Context, ch platform.ChannelID, content string, replyTo platform.MessageID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Channel: ch, Content: content})
	return nil
}
func (f *fakeActions) SendDM(ctx context.Context, u platform.UserID, content string) error {
	return nil
}
func (f *fakeActions) ApplyTimeout(ctx context.Context, u platform.UserID, g platform.GuildID, d time.Duration) error {
	return nil
}
func (f *fakeActions) ApplyBan(ctx context.Context, u platform.UserID, g platform.GuildID, d time.Duration, reason string) error {
	return nil
}
func (f *fakeActions) ApplyKick(ctx context.Context, u platform.UserID, g platform.GuildID, reason string) error {
	return nil
}
func (f *fakeActions) AddRole(ctx context.Context, u platform.UserID, g platform.GuildID, role uint64) error {
	return nil
}
func (f *fakeActions) RemoveRole(ctx context.Context, u platform.UserID, g platform.GuildID, role uint64) error {
	return nil
}

func (f *fakeActions) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type stubProvider struct {
	name    string
	content string
	calls   int
	err     error
	onCall  func()
}

func (s *stubProvider) Name() string            { return s.name }
func (s *stubProvider) DefaultModel() string    { return "stub/model" }
func (s *stubProvider) SupportsStreaming() bool { return false }
func (s *stubProvider) Available() bool         { return true }
func (s *stubProvider) ChatCompletion(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content, FinishReason: "stop"}, nil
}

type testRig struct {
	pipeline *Pipeline
	actions  *fakeActions
	provider *stubProvider
	store    *store.Store
	sessions *convo.Manager
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := slog.Default()
	sessions := convo.NewManager(st, log)
	t.Cleanup(sessions.Close)

	prov := &stubProvider{name: "stub", content: "sure, happy to help with that."}
	router := providers.NewRouter([]providers.Provider{prov}, nil, cache.New(100, nil, log, nil), log, "openai/gpt-4o-mini", nil, 0, nil)

	cfg := config.Default()
	cfg.Bot.OwnerID = 1
	actions := &fakeActions{}
	model := personality.NewModel(st)
	p := New(cfg, model, sessions, router, actions, st, log, nil, testBotID)
	p.randf = func() float64 { return 0.99 } // no optional dice by default
	return &testRig{pipeline: p, actions: actions, provider: prov, store: st, sessions: sessions}
}

func guildMsg(user platform.UserID, content string) platform.Event {
	return platform.Event{
		Type:      platform.EventMessageCreate,
		Timestamp: time.Now().UTC(),
		GuildID:   10,
		ChannelID: 20,
		MessageID: 30,
		AuthorID:  user,
		Content:   content,
	}
}

func dmMsg(user platform.UserID, content string) platform.Event {
	ev := guildMsg(user, content)
	ev.GuildID = 0
	return ev
}

func TestProcess_IdentityShortcut(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	ev := dmMsg(2, "hey astra, who are you?")
	if err := rig.pipeline.Process(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if rig.provider.calls != 0 {
		t.Error("identity questions must not call a provider")
	}
	sent := rig.actions.messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Content, "Astra") {
		t.Fatalf("sent = %+v, want one reply naming the bot", sent)
	}

	// Window gained both turns.
	key := convo.SessionKey{Guild: 0, Channel: 20, User: 2}
	w := rig.sessions.Snapshot(ctx, key)
	if len(w.Turns) != 2 {
		t.Errorf("window turns = %d, want 2", len(w.Turns))
	}
}

func TestProcess_FastReply(t *testing.T) {
	rig := newRig(t)

	if err := rig.pipeline.Process(context.Background(), dmMsg(3, "ping")); err != nil {
		t.Fatal(err)
	}
	if rig.provider.calls != 0 {
		t.Error("trivial inputs must not call a provider")
	}
	sent := rig.actions.messages()
	if len(sent) != 1 || !strings.Contains(strings.ToLower(sent[0].Content), "pong") {
		t.Errorf("sent = %+v, want a pong", sent)
	}
}

func TestProcess_AdmissionRejects(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	bot := dmMsg(4, "hello there")
	bot.AuthorIsBot = true
	empty := dmMsg(5, "   ")

	for _, ev := range []platform.Event{bot, empty} {
		if err := rig.pipeline.Process(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if len(rig.actions.messages()) != 0 {
		t.Errorf("sent = %+v, want nothing", rig.actions.messages())
	}
}

func TestProcess_ProviderPath(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	if err := rig.pipeline.Process(ctx, dmMsg(6, "can you explain how rate limits work here?")); err != nil {
		t.Fatal(err)
	}
	if rig.provider.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", rig.provider.calls)
	}
	sent := rig.actions.messages()
	if len(sent) != 1 || sent[0].Content == "" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestProcess_AntiEcho(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()
	base := time.Now()
	rig.pipeline.now = func() time.Time { return base }

	if err := rig.pipeline.Process(ctx, dmMsg(7, "tell me something about go routines")); err != nil {
		t.Fatal(err)
	}
	// 2s later: inside the echo window, skipped silently.
	rig.pipeline.now = func() time.Time { return base.Add(2 * time.Second) }
	if err := rig.pipeline.Process(ctx, dmMsg(7, "and what about channels?")); err != nil {
		t.Fatal(err)
	}
	if got := len(rig.actions.messages()); got != 1 {
		t.Fatalf("sent %d messages, want 1 (second within echo window)", got)
	}

	rig.pipeline.now = func() time.Time { return base.Add(6 * time.Second) }
	if err := rig.pipeline.Process(ctx, dmMsg(7, "and what about channels?")); err != nil {
		t.Fatal(err)
	}
	if got := len(rig.actions.messages()); got != 2 {
		t.Errorf("sent %d messages, want 2 after echo window", got)
	}
}

func TestProcess_GuildRequiresAddressing(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	// Unaddressed guild chatter with a low engagement score: no reply.
	if err := rig.pipeline.Process(ctx, guildMsg(8, "nice weather")); err != nil {
		t.Fatal(err)
	}
	if len(rig.actions.messages()) != 0 {
		t.Fatal("unaddressed short chatter should not get a reply")
	}

	// Mentioning the bot does.
	ev := guildMsg(8, "what do you think about this plan")
	ev.Mentions = []platform.UserID{testBotID}
	if err := rig.pipeline.Process(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if len(rig.actions.messages()) != 1 {
		t.Error("mention should get a reply")
	}

	// Wake word too.
	ev2 := guildMsg(9, "astra can you summarize the last hour")
	if err := rig.pipeline.Process(ctx, ev2); err != nil {
		t.Fatal(err)
	}
	if len(rig.actions.messages()) != 2 {
		t.Error("wake word should get a reply")
	}
}

func TestProcess_FallbackOnProviderFailure(t *testing.T) {
	rig := newRig(t)
	rig.provider.err = context.DeadlineExceeded

	if err := rig.pipeline.Process(context.Background(), dmMsg(10, "explain this error for me please")); err != nil {
		t.Fatal(err)
	}
	sent := rig.actions.messages()
	if len(sent) != 1 {
		t.Fatalf("sent = %+v, want one fallback", sent)
	}
	found := false
	for _, phrase := range []string{"train of thought", "sideways", "good answer", "hiccupped"} {
		if strings.Contains(sent[0].Content, phrase) {
			found = true
		}
	}
	if !found {
		t.Errorf("fallback = %q, not from the fixed list", sent[0].Content)
	}
}

func TestProcess_ShutdownSendsNothing(t *testing.T) {
	rig := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	rig.provider.onCall = cancel
	rig.provider.err = context.Canceled

	err := rig.pipeline.Process(ctx, dmMsg(13, "walk me through setting up the project"))
	if err == nil {
		t.Fatal("cancelled processing should surface an error")
	}
	if len(rig.actions.messages()) != 0 {
		t.Errorf("sent = %+v, want nothing after cancellation", rig.actions.messages())
	}
}

type fakeImages struct {
	mu   sync.Mutex
	reqs []imagegen.Request
	res  *imagegen.Result
	err  error
}

func (f *fakeImages) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func TestProcess_ImageCommand(t *testing.T) {
	rig := newRig(t)
	images := &fakeImages{res: &imagegen.Result{URL: "https://img.example/cat.png", Provider: "stub"}}
	rig.pipeline.SetImageService(images)

	if err := rig.pipeline.Process(context.Background(), dmMsg(11, "!draw a cat in space")); err != nil {
		t.Fatal(err)
	}
	if rig.provider.calls != 0 {
		t.Error("image commands must not reach the text provider")
	}
	if len(images.reqs) != 1 || images.reqs[0].Prompt != "a cat in space" {
		t.Fatalf("image requests = %+v", images.reqs)
	}
	if images.reqs[0].Tier != imagegen.TierUser {
		t.Errorf("tier = %v, want user", images.reqs[0].Tier)
	}
	sent := rig.actions.messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Content, "cat.png") {
		t.Fatalf("sent = %+v, want the image URL", sent)
	}

	// The owner gets the admin tier.
	ownerEv := dmMsg(1, "!image a moon base")
	ownerEv.ChannelID = 21
	if err := rig.pipeline.Process(context.Background(), ownerEv); err != nil {
		t.Fatal(err)
	}
	if got := images.reqs[len(images.reqs)-1].Tier; got != imagegen.TierAdmin {
		t.Errorf("owner tier = %v, want admin", got)
	}
}

func TestProcess_ImageDenialMessage(t *testing.T) {
	rig := newRig(t)
	images := &fakeImages{err: &imagegen.Denial{Reason: "rate_limited", Message: "You've hit your hourly image limit (5). Try again in a bit."}}
	rig.pipeline.SetImageService(images)

	if err := rig.pipeline.Process(context.Background(), dmMsg(12, "!draw another one")); err != nil {
		t.Fatal(err)
	}
	sent := rig.actions.messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Content, "hourly image limit") {
		t.Fatalf("sent = %+v, want the denial message verbatim", sent)
	}
}

func TestImageCommandMatching(t *testing.T) {
	rig := newRig(t)
	p := rig.pipeline

	if prompt, ok := p.imageCommand("!draw a red panda"); !ok || prompt != "a red panda" {
		t.Errorf("draw command: ok=%v prompt=%q", ok, prompt)
	}
	if prompt, ok := p.imageCommand("  !IMAGE  a skyline  "); !ok || prompt != "a skyline" {
		t.Errorf("image command: ok=%v prompt=%q", ok, prompt)
	}
	if _, ok := p.imageCommand("!drawing lessons anyone?"); ok {
		t.Error("!drawing must not match")
	}
	if _, ok := p.imageCommand("draw me a map"); ok {
		t.Error("unprefixed draw must not match")
	}
}

func TestChunk(t *testing.T) {
	if got := Chunk("short message"); len(got) != 1 || got[0] != "short message" {
		t.Errorf("Chunk(short) = %v", got)
	}

	// Sentences of ~100 chars; 30 of them exceed one message.
	sentence := strings.Repeat("x", 96) + " ok. "
	long := strings.TrimSpace(strings.Repeat(sentence, 30))
	chunks := Chunk(long)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > maxMessageLen {
			t.Errorf("chunk %d length %d exceeds limit", i, len([]rune(c)))
		}
		if i < len(chunks)-1 && !strings.HasSuffix(strings.TrimRight(c, " "), ".") {
			t.Errorf("chunk %d does not end at a sentence boundary: %q", i, c[len(c)-20:])
		}
	}
	if strings.Join(strings.Fields(strings.Join(chunks, " ")), " ") != strings.Join(strings.Fields(long), " ") {
		t.Error("chunking lost content")
	}

	// A single unbroken run still splits.
	blob := strings.Repeat("a", 4500)
	chunks = Chunk(blob)
	if len(chunks) != 3 {
		t.Errorf("unbroken blob chunks = %d, want 3", len(chunks))
	}
}

func TestPostProcess_Styles(t *testing.T) {
	noRand := func() float64 { return 0.99 }

	casual := personality.StyleFor(personality.Traits{Formality: 10})
	got := postProcess("I am glad you are here. I will help.", casual, false, nil, noRand)
	if !strings.Contains(got, "I'm") || !strings.Contains(got, "you're") || !strings.Contains(got, "I'll") {
		t.Errorf("contractions not applied: %q", got)
	}

	formal := personality.StyleFor(personality.Traits{Formality: 90})
	got = postProcess("I'm sure you're right. I'll check.", formal, false, nil, noRand)
	if strings.Contains(got, "I'm") || strings.Contains(got, "you're") {
		t.Errorf("expansions not applied: %q", got)
	}

	soft := personality.StyleFor(personality.Traits{Empathy: 70})
	got = postProcess("That sounds like a difficult situation.", soft, false, nil, noRand)
	if !strings.HasPrefix(got, empathyPrefix) {
		t.Errorf("empathy prefix missing: %q", got)
	}

	// Follow-up fires only on the dice and only without a question mark.
	alwaysRand := func() float64 { return 0.1 }
	initiative := personality.StyleFor(personality.Traits{Initiative: 90})
	got = postProcess("Here is the summary.", initiative, false, nil, alwaysRand)
	if !strings.Contains(got, "?") {
		t.Errorf("follow-up question missing: %q", got)
	}
	got = postProcess("Does that help?", initiative, false, nil, alwaysRand)
	if strings.Count(got, "?") != 1 {
		t.Errorf("follow-up added despite existing question: %q", got)
	}
}

func TestEngagementScore(t *testing.T) {
	profile := store.NewUserProfile(1, 2)
	noRand := func() float64 { return 0.99 }

	if s := engagementScore("ok", profile, noRand); s >= 0.4 {
		t.Errorf("trivial message score = %v, want < 0.4", s)
	}
	if s := engagementScore("does anyone know how do i fix this import cycle in my build", profile, noRand); s < 0.4 {
		t.Errorf("help-seeking score = %v, want >= 0.4", s)
	}

	profile.PreferredTopics = map[string]float64{"programming": 1.0}
	withTopics := engagementScore("wrestling with some code again", profile, noRand)
	profile.PreferredTopics = nil
	without := engagementScore("wrestling with some code again", profile, noRand)
	if withTopics <= without {
		t.Errorf("topic match should raise score: %v <= %v", withTopics, without)
	}
}

func TestEngagementScore_ComplexityCap(t *testing.T) {
	profile := store.NewUserProfile(1, 2)
	noRand := func() float64 { return 0.99 }

	// A question raises a mid-length message but cannot push a long one
	// past the complexity cap.
	mid := strings.TrimSpace(strings.Repeat("word ", 25))
	if q, plain := engagementScore(mid+"?", profile, noRand), engagementScore(mid, profile, noRand); q <= plain {
		t.Errorf("question bonus missing: %v <= %v", q, plain)
	}

	long := strings.TrimSpace(strings.Repeat("word ", 45))
	q, plain := engagementScore(long+"?", profile, noRand), engagementScore(long, profile, noRand)
	if q != plain {
		t.Errorf("long question = %v, plain = %v, want the capped component for both", q, plain)
	}
}
