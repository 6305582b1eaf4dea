// Topicmirror - Chat Video Ingestion and Topic Mirroring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/topicmirror

package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/topicmirror/internal/chat"
	"github.com/tomtom215/topicmirror/internal/config"
	"github.com/tomtom215/topicmirror/internal/forward"
	"github.com/tomtom215/topicmirror/internal/provision"
	"github.com/tomtom215/topicmirror/internal/ratelimit"
	"github.com/tomtom215/topicmirror/internal/store"
)

const mb = int64(1024 * 1024)

type env struct {
	fake  *chat.Fake
	db    *store.DB
	audit *forward.AuditLog
	agent *Agent
	cfg   *config.Config
}

func newEnv(t *testing.T, cfg *config.Config) *env {
	t.Helper()

	fake := chat.NewFake()

	db, err := store.Open(filepath.Join(t.TempDir(), "processed-messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	driver := ratelimit.NewDriver()
	driver.SetSleep(func(context.Context, time.Duration) error { return nil })

	dataDir := t.TempDir()
	audit := forward.NewAuditLog(filepath.Join(dataDir, "forwarding-log.json"))
	prov := provision.New(fake, driver, filepath.Join(dataDir, "forum-group-cache.json"), cfg.DryRun)

	e := &env{fake: fake, db: db, audit: audit, cfg: cfg}
	e.agent = New(cfg, Deps{
		Client:      fake,
		DB:          db,
		Audit:       audit,
		Provisioner: prov,
		Driver:      driver,
	})
	return e
}

func baseConfig() *config.Config {
	return &config.Config{
		SortedGroupName:           "Sorted Videos",
		VideoMatches:              []string{"keyword"},
		MinVideoDurationInSeconds: 300,
		DuplicateDetection: config.DuplicateDetectionConfig{
			DurationToleranceSeconds: 30,
			FileSizeTolerancePercent: 5,
			ResolutionTolerancePct:   10,
			NormalizeFilenames:       true,
		},
	}
}

// destMessages returns the messages of the provisioned destination.
func (e *env) destMessages(t *testing.T, ctx context.Context) []chat.Message {
	t.Helper()
	destID, err := e.agent.provisioner.EnsureGroup(ctx, e.cfg.SortedGroupName)
	require.NoError(t, err)
	return e.fake.Messages(destID)
}

func TestRunOnceForwardsMatchedVideos(t *testing.T) {
	cfg := baseConfig()
	e := newEnv(t, cfg)
	ctx := context.Background()

	srcID := e.fake.AddChat("Source", chat.KindGroup)
	e.fake.AddMessage(srcID, "", 0, chat.Video{
		FileName:    "Sample.Keyword.1080p.mp4",
		DurationSec: 600,
		HasDuration: true,
		SizeBytes:   120 * mb,
	})
	e.fake.AddMessage(srcID, "just chatter", 0, nil)

	summary, err := e.agent.RunOnce(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, summary.SourcesScanned)
	require.Equal(t, 1, summary.MessagesProcessed)
	require.Equal(t, 1, summary.MessagesForwarded)
	require.Equal(t, map[string]int{"keyword": 1}, summary.ForwardedByTopic)

	require.Len(t, e.destMessages(t, ctx), 1)

	entries, err := e.audit.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Sample.Keyword.1080p.mp4", entries[0].FileName)
}

func TestRunOnceSweepsBeforeScanning(t *testing.T) {
	cfg := baseConfig()
	cfg.VideoExclusions = []string{"preview"}
	e := newEnv(t, cfg)
	ctx := context.Background()

	// Seed the destination with an excluded leftover from a prior run.
	destID, err := e.agent.provisioner.EnsureGroup(ctx, cfg.SortedGroupName)
	require.NoError(t, err)
	topicID, err := e.agent.provisioner.EnsureTopic(ctx, destID, "keyword")
	require.NoError(t, err)
	e.fake.AddMessage(destID, "", topicID, chat.Video{FileName: "stale_preview_keyword.mp4"})

	summary, err := e.agent.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.MessagesSwept)
	require.Empty(t, e.fake.Messages(destID))
}

func TestRunOnceSkipCleanup(t *testing.T) {
	cfg := baseConfig()
	cfg.VideoExclusions = []string{"preview"}
	cfg.SkipCleanup = true
	e := newEnv(t, cfg)
	ctx := context.Background()

	destID, err := e.agent.provisioner.EnsureGroup(ctx, cfg.SortedGroupName)
	require.NoError(t, err)
	topicID, err := e.agent.provisioner.EnsureTopic(ctx, destID, "keyword")
	require.NoError(t, err)
	e.fake.AddMessage(destID, "", topicID, chat.Video{FileName: "stale_preview_keyword.mp4"})

	summary, err := e.agent.RunOnce(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.MessagesSwept)
	require.Len(t, e.fake.Messages(destID), 1)
}

func TestRunOnceResolvesConfiguredSources(t *testing.T) {
	cfg := baseConfig()
	e := newEnv(t, cfg)
	ctx := context.Background()

	byTitle := e.fake.AddChat("Named Group", chat.KindGroup)
	byID := e.fake.AddChat("Numeric Group", chat.KindGroup)
	skipped := e.fake.AddChat("Unlisted Group", chat.KindGroup)

	for _, id := range []int64{byTitle, byID, skipped} {
		e.fake.AddMessage(id, "", 0, chat.Video{
			FileName:    "clip.keyword.mp4",
			DurationSec: 600,
			HasDuration: true,
			SizeBytes:   50 * mb,
		})
	}

	cfg.SourceGroups = []string{"Named Group", strconv.FormatInt(byID, 10), "No Such Group"}

	summary, err := e.agent.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.SourcesScanned)
	require.Equal(t, 2, summary.MessagesProcessed)
}

func TestRunOnceScansAllGroupsByDefault(t *testing.T) {
	cfg := baseConfig()
	e := newEnv(t, cfg)
	ctx := context.Background()

	groupID := e.fake.AddChat("Group", chat.KindGroup)
	channelID := e.fake.AddChat("Channel", chat.KindChannel)
	dmID := e.fake.AddChat("A Friend", chat.KindOther)
	for _, id := range []int64{groupID, channelID, dmID} {
		e.fake.AddMessage(id, "", 0, chat.Video{
			FileName:    "clip.keyword.mp4",
			DurationSec: 600,
			HasDuration: true,
			SizeBytes:   50 * mb,
		})
	}

	summary, err := e.agent.RunOnce(ctx)
	require.NoError(t, err)

	// Groups and channels are scanned; direct chats and the destination
	// are not.
	require.Equal(t, 2, summary.SourcesScanned)
	require.Equal(t, 2, summary.MessagesProcessed)
}

func TestRunOnceForwardCapSpansSources(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxForwards = 2
	e := newEnv(t, cfg)
	ctx := context.Background()

	for _, title := range []string{"First", "Second", "Third"} {
		id := e.fake.AddChat(title, chat.KindGroup)
		e.fake.AddMessage(id, "", 0, chat.Video{
			FileName:    title + ".keyword.mp4",
			DurationSec: 600,
			HasDuration: true,
			SizeBytes:   50 * mb,
		})
	}

	summary, err := e.agent.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.MessagesForwarded)
}

func TestRunOnceDryRun(t *testing.T) {
	cfg := baseConfig()
	cfg.DryRun = true
	e := newEnv(t, cfg)
	ctx := context.Background()

	srcID := e.fake.AddChat("Source", chat.KindGroup)
	e.fake.AddMessage(srcID, "", 0, chat.Video{
		FileName:    "Sample.Keyword.mp4",
		DurationSec: 600,
		HasDuration: true,
		SizeBytes:   120 * mb,
	})

	summary, err := e.agent.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.MessagesForwarded)
	require.Zero(t, e.fake.Calls["forward"])
	require.Zero(t, e.fake.Calls["provision_group"])

	n, err := e.db.CountVideos(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestServeOneShotDoesNotRestart(t *testing.T) {
	cfg := baseConfig()
	e := newEnv(t, cfg)

	e.fake.AddChat("Source", chat.KindGroup)

	err := e.agent.Serve(context.Background())
	require.ErrorIs(t, err, suture.ErrDoNotRestart)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := baseConfig()
	cfg.Ingest.Interval = time.Hour
	e := newEnv(t, cfg)

	e.fake.AddChat("Source", chat.KindGroup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.agent.Serve(ctx) }()

	// Let the first cycle finish, then cancel during the interval wait.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancellation")
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.DuplicateDetectionConfig{
		CheckDuration:            true,
		DurationToleranceSeconds: 45,
		CheckFileSize:            true,
		FileSizeTolerancePercent: 7.5,
		CheckResolution:          true,
		ResolutionTolerancePct:   12,
		CheckMimeType:            true,
		NormalizeFilenames:       false,
	})
	require.True(t, p.CheckDuration)
	require.Equal(t, 45, p.DurationToleranceSec)
	require.True(t, p.CheckFileSize)
	require.InDelta(t, 7.5, p.FileSizeTolerancePct, 1e-9)
	require.True(t, p.CheckResolution)
	require.InDelta(t, 12.0, p.ResolutionTolerancePct, 1e-9)
	require.True(t, p.CheckMimeType)
	require.False(t, p.NormalizeFilenames)
	require.True(t, p.AnyCheckEnabled())
}

func TestRunOnceFailsWhenProvisioningFails(t *testing.T) {
	cfg := baseConfig()
	e := newEnv(t, cfg)

	e.fake.FailNext("provision_group", errors.New("boom"),
		errors.New("boom"), errors.New("boom"), errors.New("boom"))

	_, err := e.agent.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "destination group")
}
