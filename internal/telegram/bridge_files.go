package telegram

import (
	"context"
	"fmt"
	"strings"
)

const filePutUsage = "usage: `/file put [path] [--force]` with an attached document, or `/file get <path>`"

// fileRoot resolves the project directory file transfers operate in,
// using the same context resolution as an empty prompt.
func (b *Bridge) fileRoot(msg IncomingMessage) (string, error) {
	rt := b.runtime()
	_, bound := b.topicKey(msg)
	resolved, err := rt.ResolveMessage("", msg.ReplyToText, bound, msg.ChatID)
	if err != nil {
		return "", err
	}
	if resolved.Context == nil || resolved.Context.Project == "" {
		return "", fmt.Errorf("no project context available for file transfer")
	}
	root, err := rt.ResolveRunCwd(resolved.Context)
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", fmt.Errorf("no project context available for file transfer")
	}
	return root, nil
}

// parsePutArgs splits "/file put" arguments into a destination and the
// --force flag.
func parsePutArgs(rest string) (dest string, force bool) {
	for _, tok := range strings.Fields(rest) {
		if tok == "--force" {
			force = true
			continue
		}
		dest = tok
	}
	return dest, force
}

func (b *Bridge) checkFileAccess(ctx context.Context, msg IncomingMessage) bool {
	if msg.SenderID == 0 {
		b.reply(ctx, msg, "cannot verify sender for file transfer.")
		return false
	}
	if !b.files.Allowed(msg.SenderID) {
		b.reply(ctx, msg, "file transfer is not allowed for this user.")
		return false
	}
	return true
}

func (b *Bridge) handleFileCommand(ctx context.Context, msg IncomingMessage) {
	sub, rest, _ := strings.Cut(msg.CommandArgs(), " ")
	switch strings.ToLower(sub) {
	case "put":
		b.handleFilePut(ctx, msg, []IncomingMessage{msg}, rest)
	case "get":
		b.handleFileGet(ctx, msg, rest)
	default:
		b.reply(ctx, msg, filePutUsage)
	}
}

// handleAutoPut stores a bare document into the uploads dir.
func (b *Bridge) handleAutoPut(ctx context.Context, msg IncomingMessage) {
	b.handleFilePut(ctx, msg, []IncomingMessage{msg}, "")
}

func (b *Bridge) handleFilePut(ctx context.Context, msg IncomingMessage, batch []IncomingMessage, rest string) {
	if !b.checkFileAccess(ctx, msg) {
		return
	}
	root, err := b.fileRoot(msg)
	if err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}
	dest, force := parsePutArgs(rest)
	results, err := b.files.Put(ctx, root, batch, dest, force)
	if err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}
	b.reply(ctx, msg, SummarizePut(results))
}

func (b *Bridge) handleFileGet(ctx context.Context, msg IncomingMessage, rest string) {
	if !b.checkFileAccess(ctx, msg) {
		return
	}
	root, err := b.fileRoot(msg)
	if err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
		return
	}
	relPath := strings.TrimSpace(rest)
	if err := b.files.Get(ctx, root, relPath, msg.ChatID, msg.ThreadID, msg.MessageID); err != nil {
		b.reply(ctx, msg, "error:\n"+err.Error())
	}
}

// flushMediaGroup lands a quiesced media group as one put batch. A
// caption carrying "/file put …" sets the destination for the whole
// group; otherwise auto_put must be on.
func (b *Bridge) flushMediaGroup(ctx context.Context, msgs []IncomingMessage) {
	if len(msgs) == 0 {
		return
	}
	first := msgs[0]

	rest := ""
	explicit := false
	for _, m := range msgs {
		if m.CommandName() != "file" {
			continue
		}
		sub, r, _ := strings.Cut(m.CommandArgs(), " ")
		if strings.ToLower(sub) != "put" {
			b.reply(ctx, m, filePutUsage)
			return
		}
		rest = r
		explicit = true
		break
	}
	if !explicit && !b.files.Cfg.AutoPut {
		b.reply(ctx, first, filePutUsage)
		return
	}
	b.handleFilePut(ctx, first, msgs, rest)
}
