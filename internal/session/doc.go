// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the application state controller.
//
// A Controller owns everything the user is working with: the current
// identity, its projects, the current project, the active chat, the pending
// file list and the working instructions. Every mutating operation rewrites
// the user's whole snapshot (projects, current_project, instructions, files)
// through a storage.Adapter, so the store always reflects the last
// successful operation.
//
// # Sending
//
// SendMessage appends the user turn (creating a chat when none is active),
// persists, then awaits the reply with the controller unlocked. A successful
// reply is appended and persisted; a failed one comes back as a RoleError turn
// in the SendResult and never touches storage. Only one send runs at a time.
//
// # Projectless Chats
//
// With no current project, chats are kept in a detached in-memory list. They
// are usable for the life of the Controller but never persisted.
//
// # Usage
//
//	ctrl := session.NewController(store, reply.NewLocal(nil), session.WithUser("me@example.com"))
//	if err := ctrl.Load(ctx); err != nil {
//		return err
//	}
//	res, err := ctrl.SendMessage(ctx, "hello")
package session
