// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package main contains the prhub CLI chat runner.
//
// StreamChatRunner wires the full client stack together:
//
//	cmd_chat.go → StreamChatRunner → chat.Session
//	                                 ↓
//	                                 protocol.Client (WebSocket)
//	                                 conversations.Adapter (REST)
//	                                 localstore.Store (badger cache)
//	                                 InputReader (stdin abstraction)
package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prwritinghub/prhub-cli/pkg/chat"
	"github.com/prwritinghub/prhub-cli/pkg/conversations"
	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
	"github.com/prwritinghub/prhub-cli/pkg/localstore"
	"github.com/prwritinghub/prhub-cli/pkg/logging"
	"github.com/prwritinghub/prhub-cli/pkg/protocol"
	"github.com/prwritinghub/prhub-cli/pkg/usage"
	"github.com/prwritinghub/prhub-cli/pkg/ux"
)

// StreamChatRunnerConfig groups everything needed to build a runner.
type StreamChatRunnerConfig struct {
	Config   Config
	Reader   InputReader
	Logger   *logging.Logger
	ResumeID string
}

// StreamChatRunner runs the interactive streaming chat loop.
//
// # Description
//
// Reads user turns from the InputReader, sends them through the chat
// session, and renders assistant chunks to stdout as they arrive in
// order. Exits on "exit"/"quit", EOF, or context cancellation.
//
// # Limitations
//
//   - Not reusable after Run returns
//   - One runner per process; it owns the protocol client
type StreamChatRunner struct {
	cfg     Config
	reader  InputReader
	log     *logging.Logger
	client  *protocol.WSClient
	session *chat.Session
	cache   *localstore.BadgerStore
	spinner *ux.Spinner

	// turnDone receives one signal per completed or failed turn.
	turnDone chan struct{}
}

// NewStreamChatRunner builds the full client stack. A cache open
// failure degrades to uncached operation rather than failing.
func NewStreamChatRunner(rc StreamChatRunnerConfig) (*StreamChatRunner, error) {
	cfg := rc.Config
	log := rc.Logger
	tokens := tokenProvider()

	var cacheStore localstore.Store
	cache, err := openCache(cfg)
	if err != nil {
		log.Warn("cache unavailable, continuing without it", "error", err)
	} else {
		cacheStore = cache
	}

	clientCfg := protocol.DefaultConfig(cfg.WSURL)
	clientCfg.Tokens = tokens
	clientCfg.Logger = log.Slog()
	client := protocol.NewWSClient(clientCfg)

	adapter := conversations.NewRESTAdapter(conversations.Config{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		Logger:  log.Slog(),
	})

	r := &StreamChatRunner{
		cfg:      cfg,
		reader:   rc.Reader,
		log:      log,
		client:   client,
		cache:    cache,
		spinner:  ux.NewSpinner("waiting for assistant"),
		turnDone: make(chan struct{}, 1),
	}

	session, err := chat.NewSession(chat.Config{
		Client:         client,
		Adapter:        adapter,
		Cache:          cacheStore,
		Engine:         cfg.Engine,
		UserID:         cfg.UserID,
		UserRole:       cfg.UserRole,
		ConversationID: rc.ResumeID,
		Logger:         log.Slog(),
		Events: chat.Events{
			OnAssistantStart: func(string) {
				r.spinner.Stop()
				fmt.Print(assistantStyle.Render(assistantPrompt))
			},
			OnAssistantDelta: func(_, delta string) {
				fmt.Print(delta)
			},
			OnAssistantDone: func(datatypes.Message) {
				fmt.Println()
				r.signalTurnDone()
			},
			OnAssistantError: func(msg datatypes.Message) {
				r.spinner.Stop()
				fmt.Println(errorStyle.Render(msg.Content))
				r.signalTurnDone()
			},
		},
	})
	if err != nil {
		client.Close()
		if cache != nil {
			cache.Close()
		}
		return nil, err
	}
	r.session = session
	return r, nil
}

// Run executes the chat loop until exit, EOF, or cancellation.
func (r *StreamChatRunner) Run(ctx context.Context) error {
	if err := r.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to chat endpoint: %w", err)
	}

	if r.cfg.Engine == protocol.EngineAnthropic {
		fmt.Println(renderMeta("engine: Claude (11)  conversation: %s", r.session.ConversationID()))
	} else {
		fmt.Println(renderMeta("engine: GPT (22)  conversation: %s", r.session.ConversationID()))
	}
	r.showUsage(ctx)

	if err := r.session.Load(ctx); err != nil {
		r.log.Warn("transcript load failed", "error", err)
	}
	if msgs := r.session.Messages(); len(msgs) > 0 {
		fmt.Print(renderTranscript(msgs))
	}

	prompt := userStyle.Render(userPrompt)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p, ok := r.reader.(PromptingInputReader); ok {
			p.SetPrompt(prompt)
		} else {
			fmt.Print(prompt)
		}
		line, err := r.reader.ReadLine()
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if isExitCommand(line) {
			return nil
		}
		if line == "" {
			continue
		}

		if err := r.session.Send(ctx, line); err != nil {
			fmt.Println(errorStyle.Render("send failed: " + err.Error()))
			continue
		}
		r.spinner.Start()

		// Block until the assistant turn finalizes or errors. The
		// stream session's liveness timeout guarantees this resolves.
		select {
		case <-r.turnDone:
		case <-ctx.Done():
			r.spinner.Stop()
			return ctx.Err()
		}
	}
}

// Close releases the session, socket, and cache. Safe to call after
// Run returns.
func (r *StreamChatRunner) Close() error {
	r.session.Close()
	err := r.client.Close()
	if r.cache != nil {
		if cerr := r.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (r *StreamChatRunner) signalTurnDone() {
	select {
	case r.turnDone <- struct{}{}:
	default:
	}
}

// showUsage prints the usage meter line; failures are silent beyond a
// debug log because usage display is informational.
func (r *StreamChatRunner) showUsage(ctx context.Context) {
	var cacheStore localstore.Store
	if r.cache != nil {
		cacheStore = r.cache
	}
	client := usage.NewClient(usage.Config{
		BaseURL: r.cfg.APIBaseURL,
		Tokens:  tokenProvider(),
		Cache:   cacheStore,
		Logger:  r.log.Slog(),
	}, conversations.NewDefaultHTTPClient(0))

	result, err := client.Percentage(ctx, r.cfg.UserID, r.cfg.Engine)
	if err != nil {
		r.log.Debug("usage unavailable", "error", err)
		return
	}
	suffix := ""
	if result.FromCache {
		suffix = " (cached)"
	}
	fmt.Println(renderMeta("monthly usage: %.1f%%%s", result.Percentage, suffix))
}
