// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the browser front end over HTTP.
//
// # Endpoints
//
//   - GET  /                      - Chat page
//   - POST /api/chat              - One submission, reply streamed as SSE
//   - POST /api/conversation/new  - Discard history and per-session caches
//   - GET  /api/export            - Download the transcript (markdown, html, json)
//   - GET  /healthz               - Backend reachability report
//
// The server is single-session: one conversation per process, matching a
// kiosk-style deployment where each browser container serves one user.
//
// # Usage
//
//	srv := server.New(cfg, sess, exports, inspector, parser, logger)
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
package server
