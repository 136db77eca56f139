package controls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MeltedButter77/robotnic/lifecycle"
	"github.com/MeltedButter77/robotnic/platform"
	"github.com/MeltedButter77/robotnic/store"
	"github.com/MeltedButter77/robotnic/tasks"
	"github.com/MeltedButter77/robotnic/testutil"
)

type nopRenamer struct{}

func (nopRenamer) Schedule(string, string)       {}
func (nopRenamer) Forget(string)                 {}
func (nopRenamer) Pending(string) (string, bool) { return "", false }

type fixture struct {
	ctl   *lifecycle.Controller
	fake  *testutil.FakePlatform
	store *store.Memory
	h     *Handlers
	temp  string
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{fake: testutil.NewFakePlatform(), store: store.NewMemory()}
	f.fake.AddChannel(platform.Channel{ID: "creator", GuildID: "g", Name: "Join"})
	f.fake.AddMember("owner", "Olive")
	f.fake.AddMember("other", "Otto")
	if err := f.store.UpsertCreatorChannel(ctx, store.CreatorChannel{GuildID: "g", ChannelID: "creator", ChildNameTemplate: "{user}'s Room"}); err != nil {
		t.Fatal(err)
	}
	f.ctl = lifecycle.New(f.store, f.fake, nopRenamer{}, nil, lifecycle.Config{})
	f.fake.Connect("owner", "creator")
	id, err := f.ctl.OnCreatorJoin(ctx, "g", "creator", "owner")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	f.fake.Connect("other", id)
	f.temp = id
	f.h = NewHandlers(f.ctl, NewConfirmations(), timeout)
	return f
}

func TestConfirmations(t *testing.T) {
	c := NewConfirmations()
	ctx := context.Background()
	if c.Resolve("k", true) {
		t.Fatal("Resolve without a waiter should report false")
	}

	go func() {
		for !c.Pending("k") {
			time.Sleep(time.Millisecond)
		}
		c.Resolve("k", true)
	}()
	yes, err := c.Await(ctx, "k", time.Second)
	if err != nil || !yes {
		t.Fatalf("Await = %v, %v; want true", yes, err)
	}

	if _, err := c.Await(ctx, "k", 10*time.Millisecond); !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("Await timeout err = %v", err)
	}
	if c.Pending("k") {
		t.Fatal("timed out key still pending")
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, "dup", time.Second)
		done <- err
	}()
	for !c.Pending("dup") {
		time.Sleep(time.Millisecond)
	}
	if _, err := c.Await(ctx, "dup", time.Second); !errors.Is(err, ErrConfirmationPending) {
		t.Fatalf("second Await = %v, want ErrConfirmationPending", err)
	}
	c.Resolve("dup", false)
	if err := <-done; err != nil {
		t.Fatalf("first Await err = %v", err)
	}
}

func TestHandlersEnforceOwnerGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)

	checks := map[string]error{
		"rename":     f.h.OnRenameRequested(ctx, f.temp, "mine now", "other"),
		"visibility": f.h.OnVisibilityChange(ctx, f.temp, "other", store.VisibilityHidden),
		"limit":      f.h.OnUserLimitChange(ctx, f.temp, "other", 3),
		"transfer":   f.h.OnOwnershipTransfer(ctx, f.temp, "other", "other"),
		"release":    f.h.OnOwnershipRelease(ctx, f.temp, "other"),
		"delete":     f.h.OnDeleteRequested(ctx, f.temp, "other"),
	}
	for name, err := range checks {
		if !errors.Is(err, lifecycle.ErrNotOwner) {
			t.Errorf("%s by non-owner = %v, want ErrNotOwner", name, err)
		}
	}
	if err := f.h.OnOwnershipClaim(ctx, f.temp, "other"); !errors.Is(err, lifecycle.ErrAlreadyOwned) {
		t.Errorf("claim of owned channel = %v", err)
	}
	tc, _ := f.store.GetTempChannel(ctx, f.temp)
	if tc.RenameOverride || tc.Visibility != store.VisibilityPublic || tc.OwnerID != "owner" {
		t.Errorf("record changed by rejected requests: %+v", tc)
	}
}

func TestHandlersOwnerActions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)

	if err := f.h.OnVisibilityChange(ctx, f.temp, "owner", store.VisibilityLocked); err != nil {
		t.Fatal(err)
	}
	if err := f.h.OnUserLimitChange(ctx, f.temp, "owner", 4); err != nil {
		t.Fatal(err)
	}
	if got := f.fake.Snapshot(f.temp).UserLimit; got != 4 {
		t.Errorf("limit = %d", got)
	}
	if err := f.h.OnRenameRequested(ctx, f.temp, "Quiet", "owner"); err != nil {
		t.Fatal(err)
	}
	if err := f.h.OnOwnershipTransfer(ctx, f.temp, "owner", "other"); err != nil {
		t.Fatal(err)
	}
	tc, _ := f.store.GetTempChannel(ctx, f.temp)
	if tc.OwnerID != "other" || tc.Visibility != store.VisibilityLocked || !tc.RenameOverride {
		t.Errorf("record = %+v", tc)
	}
}

func TestUnclaimedChannelIsClaimedByFirstActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	if err := f.h.OnOwnershipRelease(ctx, f.temp, "owner"); err != nil {
		t.Fatal(err)
	}
	if err := f.h.OnUserLimitChange(ctx, f.temp, "other", 2); err != nil {
		t.Fatal(err)
	}
	tc, _ := f.store.GetTempChannel(ctx, f.temp)
	if tc.OwnerID != "other" {
		t.Errorf("owner = %q, want other", tc.OwnerID)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	ctx := context.Background()

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, 20*time.Millisecond)
		err := f.h.OnDeleteRequested(ctx, f.temp, "owner")
		if !errors.Is(err, ErrConfirmationTimeout) {
			t.Fatalf("err = %v, want timeout", err)
		}
		if f.fake.Snapshot(f.temp) == nil {
			t.Fatal("channel deleted without confirmation")
		}
		if FriendlyMessage(err) == "" {
			t.Error("timeout needs a user-facing message")
		}
	})

	t.Run("declined", func(t *testing.T) {
		f := newFixture(t, time.Second)
		key := ConfirmKey(f.temp, "owner")
		go func() {
			for !f.h.Confirmations().Pending(key) {
				time.Sleep(time.Millisecond)
			}
			f.h.Confirmations().Resolve(key, false)
		}()
		if err := f.h.OnDeleteRequested(ctx, f.temp, "owner"); !errors.Is(err, ErrDeleteCancelled) {
			t.Fatalf("err = %v, want ErrDeleteCancelled", err)
		}
		if f.fake.Snapshot(f.temp) == nil {
			t.Fatal("declined delete removed the channel")
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		f := newFixture(t, time.Second)
		key := ConfirmKey(f.temp, "owner")
		go func() {
			for !f.h.Confirmations().Pending(key) {
				time.Sleep(time.Millisecond)
			}
			f.h.Confirmations().Resolve(key, true)
		}()
		if err := f.h.OnDeleteRequested(ctx, f.temp, "owner"); err != nil {
			t.Fatal(err)
		}
		if f.fake.Snapshot(f.temp) != nil {
			t.Fatal("channel still exists")
		}
		if _, err := f.store.GetTempChannel(ctx, f.temp); !errors.Is(err, store.ErrNotFound) {
			t.Fatal("record still exists")
		}
	})
}

func TestUnansweredDeleteLeavesChannelUnclaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20*time.Millisecond)
	if err := f.h.OnOwnershipRelease(ctx, f.temp, "owner"); err != nil {
		t.Fatal(err)
	}

	if err := f.h.OnDeleteRequested(ctx, f.temp, "other"); !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	tc, err := f.store.GetTempChannel(ctx, f.temp)
	if err != nil {
		t.Fatal(err)
	}
	if tc.OwnerID != "" {
		t.Errorf("owner = %q after an unanswered delete, want unclaimed", tc.OwnerID)
	}
	if f.fake.Snapshot(f.temp) == nil {
		t.Fatal("channel deleted without confirmation")
	}

	// The owner can still come back and claim it.
	if err := f.h.OnOwnershipClaim(ctx, f.temp, "owner"); err != nil {
		t.Fatalf("claim after unanswered delete: %v", err)
	}
}

func TestRouterDeletePromptDoesNotClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20*time.Millisecond)
	if err := f.h.OnOwnershipRelease(ctx, f.temp, "owner"); err != nil {
		t.Fatal(err)
	}
	resp := &fakeResponder{}
	group := tasks.NewGroup(ctx)
	r := NewRouter(f.h, resp, group)

	r.HandleInteraction(ctx, button(f.temp, "other", idDelete))
	group.Wait()
	tc, _ := f.store.GetTempChannel(ctx, f.temp)
	if tc.OwnerID != "" {
		t.Errorf("owner = %q after the prompt expired, want unclaimed", tc.OwnerID)
	}
	if len(resp.followups) != 1 {
		t.Errorf("expected one timeout followup, got %d", len(resp.followups))
	}
}

func TestConfirmedDeleteOfUnclaimedChannel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	if err := f.h.OnOwnershipRelease(ctx, f.temp, "owner"); err != nil {
		t.Fatal(err)
	}
	key := ConfirmKey(f.temp, "other")
	go func() {
		for !f.h.Confirmations().Pending(key) {
			time.Sleep(time.Millisecond)
		}
		f.h.Confirmations().Resolve(key, true)
	}()
	if err := f.h.OnDeleteRequested(ctx, f.temp, "other"); err != nil {
		t.Fatal(err)
	}
	if f.fake.Snapshot(f.temp) != nil {
		t.Fatal("channel still exists")
	}
}

func TestFriendlyMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrapped: %w", lifecycle.ErrNotOwner), "Only the channel owner can do that."},
		{lifecycle.ErrAlreadyOwned, "This channel already has an owner."},
		{lifecycle.ErrNotTempChannel, "This isn't a temporary channel."},
		{ErrDeleteCancelled, "Deletion cancelled. No action was taken."},
		{&lifecycle.MissingPermissionsError{Missing: []string{"Move Members"}}, "I couldn't create your channel. I'm missing these permissions: Move Members."},
		{platform.NewError("edit channel", platform.KindForbidden, errors.New("403")), "I don't have permission to do that in this channel."},
		{errors.New("boom"), "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		if got := FriendlyMessage(tt.err); got != tt.want {
			t.Errorf("FriendlyMessage(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

type fakeResponder struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	followups []*discordgo.WebhookParams
}

func (r *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
	return nil
}

func (r *fakeResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.followups = append(r.followups, data)
	return &discordgo.Message{}, nil
}

func (r *fakeResponder) last() *discordgo.InteractionResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		return nil
	}
	return r.responses[len(r.responses)-1]
}

func button(channelID, userID, customID string, values ...string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: channelID,
		Member:    &discordgo.Member{User: &discordgo.User{ID: userID}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: customID, Values: values},
	}
}

func modalSubmit(channelID, userID, customID, inputID, value string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionModalSubmit,
		ChannelID: channelID,
		Member:    &discordgo.Member{User: &discordgo.User{ID: userID}},
		Data: discordgo.ModalSubmitInteractionData{
			CustomID: customID,
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: inputID, Value: value},
				}},
			},
		},
	}
}

func TestRouterComponents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	resp := &fakeResponder{}
	r := NewRouter(f.h, resp, tasks.NewGroup(ctx))

	r.HandleInteraction(ctx, button(f.temp, "other", idVisibility+"hidden"))
	if got := resp.last().Data.Content; got != "Only the channel owner can do that." {
		t.Errorf("non-owner visibility reply = %q", got)
	}
	if resp.last().Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Error("error replies must be ephemeral")
	}

	r.HandleInteraction(ctx, button(f.temp, "owner", idVisibility+"locked"))
	if got := resp.last().Data.Content; got != "Channel is now locked." {
		t.Errorf("owner visibility reply = %q", got)
	}

	r.HandleInteraction(ctx, button(f.temp, "owner", idRename))
	if resp.last().Type != discordgo.InteractionResponseModal || resp.last().Data.CustomID != idRenameModal {
		t.Errorf("rename button should open the modal, got %+v", resp.last())
	}

	r.HandleInteraction(ctx, modalSubmit(f.temp, "owner", idLimitModal, idLimitInput, " 7 "))
	if got := f.fake.Snapshot(f.temp).UserLimit; got != 7 {
		t.Errorf("limit = %d, want 7", got)
	}
	r.HandleInteraction(ctx, modalSubmit(f.temp, "owner", idLimitModal, idLimitInput, "lots"))
	if got := resp.last().Data.Content; got != FriendlyMessage(lifecycle.ErrInvalidUserLimit) {
		t.Errorf("bad limit reply = %q", got)
	}

	r.HandleInteraction(ctx, modalSubmit(f.temp, "owner", idRenameModal, idRenameInput, "Focus"))
	tc, _ := f.store.GetTempChannel(ctx, f.temp)
	if !tc.RenameOverride {
		t.Error("rename modal did not set the override")
	}

	r.HandleInteraction(ctx, button(f.temp, "owner", idTransfer, "other"))
	tc, _ = f.store.GetTempChannel(ctx, f.temp)
	if tc.OwnerID != "other" {
		t.Errorf("owner = %q after transfer", tc.OwnerID)
	}

	before := len(resp.responses)
	r.HandleInteraction(ctx, button(f.temp, "owner", "someone-else:button"))
	if len(resp.responses) != before {
		t.Error("foreign custom ids must be ignored")
	}
}

func TestRouterDeleteFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	resp := &fakeResponder{}
	group := tasks.NewGroup(ctx)
	r := NewRouter(f.h, resp, group)

	r.HandleInteraction(ctx, button(f.temp, "owner", idDelete))
	prompt := resp.last()
	if prompt == nil || len(prompt.Data.Components) == 0 {
		t.Fatalf("expected a confirmation prompt, got %+v", prompt)
	}
	key := ConfirmKey(f.temp, "owner")
	deadline := time.Now().Add(time.Second)
	for !f.h.Confirmations().Pending(key) {
		if time.Now().After(deadline) {
			t.Fatal("confirmation never became pending")
		}
		time.Sleep(time.Millisecond)
	}
	if r.HandleMessage(f.temp, "other", "yes") {
		t.Fatal("another member's yes must not confirm")
	}
	if !r.HandleMessage(f.temp, "owner", " Yes ") {
		t.Fatal("owner's yes should confirm")
	}
	group.Wait()
	if f.fake.Snapshot(f.temp) != nil {
		t.Fatal("channel not deleted after confirmation")
	}
	if len(resp.followups) != 0 {
		t.Errorf("successful delete should not send an error followup: %+v", resp.followups)
	}
}

func TestRouterDeleteConfirmButtonExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	resp := &fakeResponder{}
	r := NewRouter(f.h, resp, tasks.NewGroup(ctx))

	r.HandleInteraction(ctx, button(f.temp, "owner", idDeleteConfirm))
	last := resp.last()
	if last.Type != discordgo.InteractionResponseUpdateMessage || last.Data.Content != "This confirmation has expired." {
		t.Errorf("reply = %+v", last)
	}
}

func TestInfoEmbed(t *testing.T) {
	e := InfoEmbed(Info{Name: "Room", Owner: "", Visibility: store.VisibilityHidden, UserLimit: 0, Override: true})
	want := map[string]string{"Name": "Room (custom)", "Owner": "Unclaimed", "Visibility": "Hidden", "User limit": "Unlimited"}
	for _, fld := range e.Fields {
		if want[fld.Name] != fld.Value {
			t.Errorf("field %s = %q, want %q", fld.Name, fld.Value, want[fld.Name])
		}
	}
	if len(ControlRows()) != 3 {
		t.Errorf("control rows = %d, want 3", len(ControlRows()))
	}
}
