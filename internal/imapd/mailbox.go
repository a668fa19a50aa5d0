package imapd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/backendutil"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"

	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/models"
)

const delimiter = "/"

var errFlagNotSupported = errors.New(`only the \Seen flag can be changed`)

type mailbox struct {
	user   *user
	folder *models.Folder
}

func (m *mailbox) Name() string {
	return m.folder.Name
}

func (m *mailbox) Info() (*imap.MailboxInfo, error) {
	info := &imap.MailboxInfo{
		Delimiter: delimiter,
		Name:      m.folder.Name,
	}
	if attr := specialUse(m.folder.Type); attr != "" {
		info.Attributes = []string{attr}
	}
	return info, nil
}

func specialUse(t models.FolderType) string {
	switch t {
	case models.FolderSent:
		return imap.SentAttr
	case models.FolderDrafts:
		return imap.DraftsAttr
	case models.FolderTrash:
		return imap.TrashAttr
	case models.FolderSpam:
		return imap.JunkAttr
	case models.FolderArchive:
		return imap.ArchiveAttr
	default:
		return ""
	}
}

func (m *mailbox) messages() ([]*models.Message, error) {
	return m.user.backend.store.GetMessagesForFolder(m.user.ctx, m.user.id, m.folder.ID)
}

func (m *mailbox) Status(items []imap.StatusItem) (*imap.MailboxStatus, error) {
	msgs, err := m.messages()
	if err != nil {
		return nil, err
	}

	status := imap.NewMailboxStatus(m.folder.Name, items)
	status.Flags = []string{imap.SeenFlag, imap.DraftFlag}
	status.PermanentFlags = []string{imap.SeenFlag}

	var unseen uint32
	for i, msg := range msgs {
		if !msg.IsRead {
			unseen++
			if status.UnseenSeqNum == 0 {
				status.UnseenSeqNum = uint32(i + 1)
			}
		}
	}

	for _, item := range items {
		switch item {
		case imap.StatusMessages:
			status.Messages = uint32(len(msgs))
		case imap.StatusUidNext:
			status.UidNext = uidNext(msgs)
		case imap.StatusUidValidity:
			status.UidValidity = 1
		case imap.StatusRecent:
			status.Recent = 0
		case imap.StatusUnseen:
			status.Unseen = unseen
		}
	}

	return status, nil
}

func uidNext(msgs []*models.Message) uint32 {
	if len(msgs) == 0 {
		return 1
	}
	return uint32(msgs[len(msgs)-1].UID) + 1
}

func (m *mailbox) SetSubscribed(bool) error {
	return nil
}

func (m *mailbox) Check() error {
	return nil
}

func flags(msg *models.Message) []string {
	var out []string
	if msg.IsRead {
		out = append(out, imap.SeenFlag)
	}
	if msg.IsDraft {
		out = append(out, imap.DraftFlag)
	}
	return out
}

func selected(msgs []*models.Message, uid bool, seqSet *imap.SeqSet, each func(seqNum uint32, msg *models.Message)) {
	for i, msg := range msgs {
		seqNum := uint32(i + 1)
		id := seqNum
		if uid {
			id = uint32(msg.UID)
		}
		if seqSet.Contains(id) {
			each(seqNum, msg)
		}
	}
}

func (m *mailbox) ListMessages(uid bool, seqSet *imap.SeqSet, items []imap.FetchItem, ch chan<- *imap.Message) error {
	defer close(ch)

	msgs, err := m.messages()
	if err != nil {
		return err
	}

	selected(msgs, uid, seqSet, func(seqNum uint32, msg *models.Message) {
		fetched, err := m.fetch(seqNum, msg, items)
		if err != nil {
			log.ErrorContext(m.user.ctx).Err(err).Str("message_id", msg.ID).Msg("failed to fetch message")
			return
		}
		ch <- fetched
	})

	return nil
}

func (m *mailbox) fetch(seqNum uint32, msg *models.Message, items []imap.FetchItem) (*imap.Message, error) {
	fetched := imap.NewMessage(seqNum, items)

	var raw []byte
	body := func() ([]byte, error) {
		if raw != nil {
			return raw, nil
		}
		var err error
		raw, err = m.render(msg)
		return raw, err
	}

	for _, item := range items {
		switch item {
		case imap.FetchFlags:
			fetched.Flags = flags(msg)
		case imap.FetchInternalDate:
			fetched.InternalDate = msg.CreatedAt
		case imap.FetchUid:
			fetched.Uid = uint32(msg.UID)
		case imap.FetchRFC822Size:
			b, err := body()
			if err != nil {
				return nil, err
			}
			fetched.Size = uint32(len(b))
		case imap.FetchEnvelope:
			b, err := body()
			if err != nil {
				return nil, err
			}
			hdr, _, err := headerAndBody(b)
			if err != nil {
				return nil, err
			}
			if fetched.Envelope, err = backendutil.FetchEnvelope(hdr); err != nil {
				return nil, err
			}
		case imap.FetchBody, imap.FetchBodyStructure:
			b, err := body()
			if err != nil {
				return nil, err
			}
			hdr, r, err := headerAndBody(b)
			if err != nil {
				return nil, err
			}
			if fetched.BodyStructure, err = backendutil.FetchBodyStructure(hdr, r, item == imap.FetchBodyStructure); err != nil {
				return nil, err
			}
		default:
			section, err := imap.ParseBodySectionName(item)
			if err != nil {
				continue
			}
			b, err := body()
			if err != nil {
				return nil, err
			}
			hdr, r, err := headerAndBody(b)
			if err != nil {
				return nil, err
			}
			literal, err := backendutil.FetchBodySection(hdr, r, section)
			if err != nil {
				log.DebugContext(m.user.ctx).Err(err).Str("section", string(item)).Msg("body section not found")
			}
			fetched.Body[section] = literal
		}
	}

	return fetched, nil
}

func headerAndBody(raw []byte) (textproto.Header, *bufio.Reader, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	hdr, err := textproto.ReadHeader(r)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("failed to read rendered header: %w", err)
	}
	return hdr, r, nil
}

// render rebuilds the RFC 5322 form of msg. Content never changes after delivery,
// so the result is cached by message id.
func (m *mailbox) render(msg *models.Message) ([]byte, error) {
	b := m.user.backend
	if raw, ok := b.rendered.Get(msg.ID); ok {
		return raw, nil
	}

	rows, err := b.store.GetAttachmentsForMessage(m.user.ctx, msg.ID)
	if err != nil {
		return nil, err
	}

	attachments := make([]mime.StoredAttachment, 0, len(rows))
	for _, row := range rows {
		content, err := b.blobs.ReadAll(row.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load attachment %s: %w", row.ID, err)
		}
		attachments = append(attachments, mime.StoredAttachment{Attachment: row, Content: content})
	}

	raw, err := b.renderer.Stored(msg, attachments)
	if err != nil {
		return nil, err
	}

	b.rendered.Set(msg.ID, raw)
	return raw, nil
}

func (m *mailbox) SearchMessages(uid bool, criteria *imap.SearchCriteria) ([]uint32, error) {
	msgs, err := m.messages()
	if err != nil {
		return nil, err
	}

	var ids []uint32
	for i, msg := range msgs {
		seqNum := uint32(i + 1)

		raw, err := m.render(msg)
		if err != nil {
			log.ErrorContext(m.user.ctx).Err(err).Str("message_id", msg.ID).Msg("failed to render message for search")
			continue
		}
		entity, err := message.Read(bytes.NewReader(raw))
		if err != nil && !message.IsUnknownCharset(err) {
			continue
		}

		ok, err := backendutil.Match(entity, seqNum, uint32(msg.UID), msg.CreatedAt, flags(msg), criteria)
		if err != nil || !ok {
			continue
		}

		if uid {
			ids = append(ids, uint32(msg.UID))
		} else {
			ids = append(ids, seqNum)
		}
	}

	return ids, nil
}

func (m *mailbox) CreateMessage([]string, time.Time, imap.Literal) error {
	return errReadOnly
}

// UpdateMessagesFlags only understands \Seen, which maps to the read state.
func (m *mailbox) UpdateMessagesFlags(uid bool, seqSet *imap.SeqSet, op imap.FlagsOp, changed []string) error {
	seen := false
	for _, f := range changed {
		if f != imap.SeenFlag {
			return errFlagNotSupported
		}
		seen = true
	}

	var read bool
	switch op {
	case imap.SetFlags:
		read = seen
	case imap.AddFlags:
		if !seen {
			return nil
		}
		read = true
	case imap.RemoveFlags:
		if !seen {
			return nil
		}
		read = false
	default:
		return fmt.Errorf("unknown flags operation %q", op)
	}

	msgs, err := m.messages()
	if err != nil {
		return err
	}

	var ids []string
	selected(msgs, uid, seqSet, func(_ uint32, msg *models.Message) {
		ids = append(ids, msg.ID)
	})

	if err := m.user.backend.store.SetMessagesRead(m.user.ctx, m.user.id, ids, read); err != nil {
		return err
	}

	log.DebugContext(m.user.ctx).
		Str("mailbox", m.folder.Name).
		Int("count", len(ids)).
		Bool("read", read).
		Msg("updated read state")
	return nil
}

func (m *mailbox) CopyMessages(bool, *imap.SeqSet, string) error {
	return errReadOnly
}

func (m *mailbox) Expunge() error {
	return errReadOnly
}
