// Package imap adapts a generic IMAP mailbox to emaildomain.MailboxClient.
// Remote ids are UIDs of the selected mailbox; IMAP has no thread ids, so a
// message is its own thread and the \Answered flag is the reply signal.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jaytaylor/html2text"
	"github.com/sirupsen/logrus"
)

const (
	defaultMailbox = "INBOX"
	snippetBytes   = 2048
)

// Config describes one IMAP account
type Config struct {
	Host         string
	Port         int
	Username     string
	Password     string
	Mailbox      string // defaults to INBOX
	TrashMailbox string
}

// Client is the IMAP implementation of emaildomain.MailboxClient.
// It connects lazily and must be closed by the caller.
type Client struct {
	cfg    Config
	logger *logrus.Logger

	mu   sync.Mutex
	conn *client.Client
	dial func(addr string, cfg *tls.Config) (*client.Client, error)
}

var _ emaildomain.MailboxClient = (*Client)(nil)

func New(cfg Config, logger *logrus.Logger) *Client {
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dial:   client.DialTLS,
	}
}

// connect dials, logs in and selects the mailbox. Callers hold c.mu.
func (c *Client) connect() error {
	if c.conn != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := c.dial(addr, &tls.Config{
		ServerName: c.cfg.Host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, "imap.dial", err)
	}

	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		c.logger.WithError(err).WithField("host", c.cfg.Host).Warn("[IMAP] Login failed")
		_ = conn.Logout()
		return emaildomain.NewMailboxError(emaildomain.ErrorKindAuthExpired, "imap.login", err)
	}

	if _, err := conn.Select(c.cfg.Mailbox, false); err != nil {
		_ = conn.Logout()
		return emaildomain.NewMailboxError(emaildomain.ErrorKindGeneric, "imap.select", err)
	}

	c.conn = conn
	c.logger.WithField("host", c.cfg.Host).Debug("[IMAP] Connected")
	return nil
}

// Close logs out of the server
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Logout()
	c.conn = nil
	return err
}

func (c *Client) ListMessageIDs(ctx context.Context, query emaildomain.ListQuery, pageSize int, pageToken string) (*emaildomain.MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, "imap.search", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if query.NewerThanDays > 0 {
		criteria.Since = time.Now().AddDate(0, 0, -query.NewerThanDays)
	}
	criteria.WithoutFlags = []string{imap.DeletedFlag}

	uids, err := c.conn.UidSearch(criteria)
	if err != nil {
		return nil, c.fail("imap.search", err)
	}

	page, next, err := paginateUIDs(uids, pageSize, pageToken)
	if err != nil {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindGeneric, "imap.search", err)
	}

	ids := make([]string, 0, len(page))
	for _, uid := range page {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return &emaildomain.MessagePage{
		IDs:                ids,
		NextPageToken:      next,
		ResultSizeEstimate: len(uids),
	}, nil
}

func (c *Client) GetMessageMetadata(ctx context.Context, id string) (*emaildomain.MessageMetadata, error) {
	const op = "imap.fetch"
	if err := ctx.Err(); err != nil {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
	}
	uid, err := parseUID(id)
	if err != nil {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindNotFound, op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return nil, err
	}

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
		Partial:      []int{0, snippetBytes},
	}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	msg, err := c.fetchOne(uid, items)
	if err != nil {
		return nil, c.fail(op, err)
	}
	if msg == nil {
		return nil, emaildomain.NewMailboxError(emaildomain.ErrorKindNotFound, op, fmt.Errorf("uid %d not found", uid))
	}

	meta := &emaildomain.MessageMetadata{
		ID:             id,
		ThreadID:       id,
		InternalDateMs: msg.InternalDate.UnixMilli(),
		Labels:         msg.Flags,
	}
	if msg.Envelope != nil {
		meta.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			meta.From = formatAddress(msg.Envelope.From[0])
		}
	}
	if body := msg.GetBody(section); body != nil {
		meta.Snippet = c.readSnippet(id, body)
	}
	return meta, nil
}

// GetThreadReplyStatus reports the \Answered flag of the message
func (c *Client) GetThreadReplyStatus(ctx context.Context, threadID, ownerAddress string) (bool, error) {
	const op = "imap.fetch_flags"
	if threadID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
	}
	uid, err := parseUID(threadID)
	if err != nil {
		return false, emaildomain.NewMailboxError(emaildomain.ErrorKindNotFound, op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return false, err
	}

	msg, err := c.fetchOne(uid, []imap.FetchItem{imap.FetchFlags, imap.FetchUid})
	if err != nil {
		return false, c.fail(op, err)
	}
	if msg == nil {
		return false, emaildomain.NewMailboxError(emaildomain.ErrorKindNotFound, op, fmt.Errorf("uid %d not found", uid))
	}
	return hasFlag(msg.Flags, imap.AnsweredFlag), nil
}

// Trash moves the message to the configured trash mailbox
func (c *Client) Trash(ctx context.Context, id string) error {
	const op = "imap.move"
	if err := ctx.Err(); err != nil {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
	}
	uid, err := parseUID(id)
	if err != nil {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindNotFound, op, err)
	}
	if c.cfg.TrashMailbox == "" {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindFeatureDisabled, op, errors.New("no trash mailbox configured"))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(); err != nil {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	if err := c.conn.UidMove(seqset, c.cfg.TrashMailbox); err != nil {
		return c.fail(op, err)
	}
	return nil
}

func (c *Client) fetchOne(uid uint32, items []imap.FetchItem) (*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.conn.UidFetch(seqset, items, messages)
	}()

	var found *imap.Message
	for msg := range messages {
		if msg.Uid == uid {
			found = msg
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return found, nil
}

// fail drops a broken connection so the next call redials. Callers hold c.mu.
func (c *Client) fail(op string, err error) error {
	if c.conn != nil && c.conn.State() == imap.LogoutState {
		c.conn = nil
		return emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
	}
	return emaildomain.NewMailboxError(emaildomain.ErrorKindGeneric, op, err)
}

// paginateUIDs returns the newest-first page of UIDs below the cursor token along
// with the cursor of the next page ("" when exhausted)
func paginateUIDs(uids []uint32, pageSize int, token string) ([]uint32, string, error) {
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	if token != "" {
		cursor, err := strconv.ParseUint(token, 10, 32)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token %q", token)
		}
		start := sort.Search(len(sorted), func(i int) bool { return sorted[i] < uint32(cursor) })
		sorted = sorted[start:]
	}

	if pageSize <= 0 || len(sorted) <= pageSize {
		return sorted, "", nil
	}
	page := sorted[:pageSize]
	return page, strconv.FormatUint(uint64(page[len(page)-1]), 10), nil
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid uid %q", id)
	}
	return uint32(uid), nil
}

func formatAddress(addr *imap.Address) string {
	if addr == nil {
		return ""
	}
	if addr.PersonalName == "" {
		return addr.Address()
	}
	return fmt.Sprintf("%q <%s>", addr.PersonalName, addr.Address())
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// readSnippet returns an empty snippet when the body cannot be read in full
func (c *Client) readSnippet(id string, body io.Reader) string {
	raw, err := io.ReadAll(body)
	if err != nil {
		c.logger.WithError(err).WithField("uid", id).Debug("[IMAP] Failed to read body prefix, skipping snippet")
		return ""
	}
	return snippetFromText(string(raw))
}

// snippetFromText flattens a raw body prefix to a single line of text. The prefix
// may be HTML or plain text; a cut-off tag at the end is tolerated.
func snippetFromText(raw string) string {
	text := raw
	if strings.Contains(raw, "<") {
		if converted, err := html2text.FromString(raw, html2text.Options{OmitLinks: true, TextOnly: true}); err == nil {
			text = converted
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > 500 {
		text = string(r[:500])
	}
	return text
}
