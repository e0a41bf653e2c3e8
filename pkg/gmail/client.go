package gmail

import (
	"context"
	"fmt"
	"strings"

	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/jaytaylor/html2text"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
)

// See https://developers.google.com/gmail/api/reference/quota
const (
	quotaUnitsMessagesList = 5
	quotaUnitsMessagesGet  = 5
	quotaUnitsThreadsGet   = 10
	quotaUnitsMessageTrash = 5
	quotaUnitsWatch        = 100
	quotaUnitsStop         = 50

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond

	labelSent = "SENT"
)

// Client is the Gmail implementation of emaildomain.MailboxClient.
// Calls are sequential per client and paced by a quota unit limiter.
type Client struct {
	srv     *gmail.Service
	user    string
	limiter *rate.Limiter
	logger  *logrus.Logger
}

var _ emaildomain.MailboxClient = (*Client)(nil)

func (c *Client) wait(ctx context.Context, op string, units int) error {
	if err := c.limiter.WaitN(ctx, units); err != nil {
		return emaildomain.NewMailboxError(emaildomain.ErrorKindTimeout, op, err)
	}
	return nil
}

func (c *Client) ListMessageIDs(ctx context.Context, query emaildomain.ListQuery, pageSize int, pageToken string) (*emaildomain.MessagePage, error) {
	const op = "gmail.messages.list"
	if err := c.wait(ctx, op, quotaUnitsMessagesList); err != nil {
		return nil, err
	}

	call := c.srv.Users.Messages.List(c.user).MaxResults(int64(pageSize)).Context(ctx)
	if query.NewerThanDays > 0 {
		call = call.Q(fmt.Sprintf("newer_than:%dd", query.NewerThanDays))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, classifyError(op, err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return &emaildomain.MessagePage{
		IDs:                ids,
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: int(resp.ResultSizeEstimate),
	}, nil
}

func (c *Client) GetMessageMetadata(ctx context.Context, id string) (*emaildomain.MessageMetadata, error) {
	const op = "gmail.messages.get"
	if err := c.wait(ctx, op, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}

	msg, err := c.srv.Users.Messages.Get(c.user, id).
		Format("metadata").
		MetadataHeaders("From", "Subject").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(op, err)
	}

	meta := &emaildomain.MessageMetadata{
		ID:             msg.Id,
		ThreadID:       msg.ThreadId,
		Snippet:        plainSnippet(msg.Snippet),
		InternalDateMs: msg.InternalDate,
		Labels:         msg.LabelIds,
	}
	if msg.Payload != nil {
		meta.From = getHeader(msg.Payload.Headers, "From")
		meta.Subject = getHeader(msg.Payload.Headers, "Subject")
	}
	return meta, nil
}

// GetThreadReplyStatus reports whether the owner answered in the thread: any message
// after the first that was sent by the owner or carries the SENT label
func (c *Client) GetThreadReplyStatus(ctx context.Context, threadID, ownerAddress string) (bool, error) {
	const op = "gmail.threads.get"
	if threadID == "" {
		return false, nil
	}
	if err := c.wait(ctx, op, quotaUnitsThreadsGet); err != nil {
		return false, err
	}

	thread, err := c.srv.Users.Threads.Get(c.user, threadID).
		Format("metadata").
		MetadataHeaders("From").
		Context(ctx).
		Do()
	if err != nil {
		return false, classifyError(op, err)
	}

	owner := emaildomain.NormalizeAddress(ownerAddress)
	for i, msg := range thread.Messages {
		if i == 0 {
			continue
		}
		if hasLabel(msg.LabelIds, labelSent) {
			return true, nil
		}
		if msg.Payload != nil && owner != "" {
			addr, _ := emaildomain.ParseSender(getHeader(msg.Payload.Headers, "From"))
			if addr == owner {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Client) Trash(ctx context.Context, id string) error {
	const op = "gmail.messages.trash"
	if err := c.wait(ctx, op, quotaUnitsMessageTrash); err != nil {
		return err
	}
	if _, err := c.srv.Users.Messages.Trash(c.user, id).Context(ctx).Do(); err != nil {
		return classifyError(op, err)
	}
	return nil
}

// Watch registers push notifications for the inbox on a Pub/Sub topic
func (c *Client) Watch(ctx context.Context, topicName string) error {
	const op = "gmail.users.watch"

	// Only one push client is allowed per user; clear any previous registration
	_ = c.Stop(ctx)

	if err := c.wait(ctx, op, quotaUnitsWatch); err != nil {
		return err
	}
	resp, err := c.srv.Users.Watch(c.user, &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return classifyError(op, err)
	}

	c.logger.WithFields(logrus.Fields{
		"expiration": resp.Expiration,
		"history_id": resp.HistoryId,
	}).Info("[Gmail] Watch started")
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	const op = "gmail.users.stop"
	if err := c.wait(ctx, op, quotaUnitsStop); err != nil {
		return err
	}
	if err := c.srv.Users.Stop(c.user).Context(ctx).Do(); err != nil {
		return classifyError(op, err)
	}
	return nil
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func hasLabel(labels []string, labelID string) bool {
	for _, l := range labels {
		if l == labelID {
			return true
		}
	}
	return false
}

// plainSnippet decodes the HTML entities Gmail leaves in snippets
func plainSnippet(snippet string) string {
	if snippet == "" {
		return ""
	}
	text, err := html2text.FromString(snippet, html2text.Options{OmitLinks: true, TextOnly: true})
	if err != nil {
		return snippet
	}
	return strings.Join(strings.Fields(text), " ")
}
