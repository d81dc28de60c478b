package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"taskpilot/internal/config"
	"taskpilot/internal/logging"
	"taskpilot/internal/perception"
	"taskpilot/internal/session"
	"taskpilot/internal/store"
	"taskpilot/internal/tools"
	"taskpilot/internal/types"
	"taskpilot/internal/usage"
)

// newLLM builds the model client. Tests replace it with a scripted client.
var newLLM = func(ctx context.Context, c *config.Config) (types.LLMClient, error) {
	return perception.NewClientFromConfig(ctx, perception.ProviderConfig{
		Provider:   perception.Provider(c.LLM.Provider),
		APIKey:     c.LLM.APIKey,
		Model:      c.LLM.Model,
		BaseURL:    c.LLM.BaseURL,
		Timeout:    c.GetLLMTimeout(),
		MaxRetries: c.LLM.MaxRetries,
	})
}

// app is the wired object graph shared by the commands.
type app struct {
	cfg   *config.Config
	store store.Backend
	exec  *tools.Executor
	usage *usage.Tracker
	// driver is nil when no API key is configured.
	driver *session.Driver
}

// newApp validates c, opens the store, bootstraps the actor and, when a key
// is available, builds the conversation driver.
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(c.Store.Driver, c.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := st.EnsureActor(ctx, c.Actor); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to bootstrap actor: %w", err)
	}
	logging.Boot("store ready (driver=%s, actor=%s)", c.Store.Driver, c.Actor.ID)

	tracker := usage.NewMemoryTracker()
	if c.Store.Driver != store.DriverMemory {
		tracker, err = usage.NewTracker(filepath.Join(filepath.Dir(c.Store.Path), usage.FileName))
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	a := &app{
		cfg:   c,
		store: st,
		exec:  tools.NewExecutor(st, c.Actor, tools.WithToolTimeout(c.GetToolTimeout())),
		usage: tracker,
	}

	if !c.HasAPIKey() {
		logging.BootWarn("%s is not set; chat is disabled", c.APIKeyEnv())
		return a, nil
	}
	llm, err := newLLM(ctx, c)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create %s client: %w", c.LLM.Provider, err)
	}

	dcfg := session.DefaultConfig()
	dcfg.MaxTurns = c.Conversation.MaxTurns
	dcfg.Provider = c.LLM.Provider
	dcfg.Model = c.LLM.Model
	dcfg.Usage = tracker
	if c.Conversation.SystemPrompt != "" {
		dcfg.SystemPrompt = c.Conversation.SystemPrompt
	}
	a.driver = session.NewDriver(llm, a.exec, dcfg)
	return a, nil
}

// requireChat reports a missing key the way the server does.
func (a *app) requireChat() error {
	if a.driver == nil {
		return errors.New("missing " + a.cfg.APIKeyEnv() + ": set it in the environment, .env or the config file")
	}
	return nil
}

func (a *app) Close() {
	if err := a.usage.Save(); err != nil {
		logging.StoreWarn("save usage: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logging.StoreWarn("close store: %v", err)
	}
}
