package erp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/notifier"
	redisinfra "flujos-esign/internal/infrastructure/redis"
)

// OData entity sets exposed by the ERP
const (
	activitiesEntitySet    = "Api_FlujosActivities"
	messagesEntitySet      = "Api_FlujosMessages"
	cancellationsEntitySet = "Api_FlujosActivityCancellations"
)

var activityKinds = []notifier.ActivityKind{notifier.ActivityToDo, notifier.ActivityWarning}

// Client posts workflow activities and internal messages to the ERP
type Client struct {
	config     *config.Config
	httpClient *http.Client
	redis      *redisinfra.RedisClient
	logger     *zap.Logger
}

// NewClient creates a new ERP client
func NewClient(cfg *config.Config, rc *redisinfra.RedisClient, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.ERP.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		redis:  rc,
		logger: logger,
	}
}

type activityEntry struct {
	ResModel string `json:"resModel"`
	ResID    string `json:"resId"`
	User     string `json:"user"`
	Type     string `json:"activityType"`
	Summary  string `json:"summary"`
	Note     string `json:"note"`
	Deadline string `json:"deadline,omitempty"`
}

type messageEntry struct {
	ResModel   string `json:"resModel"`
	ResID      string `json:"resId"`
	Recipients string `json:"recipients"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	// internal notes only, never mailed
	Internal bool `json:"internal"`
}

type cancellationEntry struct {
	ResModel string `json:"resModel"`
	ResID    string `json:"resId"`
	Users    string `json:"users"`
}

func dedupKey(resModel, resID, user string, kind notifier.ActivityKind) string {
	return redisinfra.Key("activity", resModel, resID, user, string(kind))
}

// NotifyToDo schedules an activity unless the same (record, user, kind) was
// scheduled within the dedup window
func (c *Client) NotifyToDo(ctx context.Context, activity notifier.Activity) error {
	key := dedupKey(activity.ResModel, activity.ResID, activity.User, activity.Kind)
	fresh, err := c.redis.SetNX(ctx, key, time.Now().Unix(), c.config.DedupWindow())
	if err != nil {
		return fmt.Errorf("failed to check activity dedup window: %w", err)
	}
	if !fresh {
		c.logger.Debug("Duplicate activity suppressed",
			zap.String("res_id", activity.ResID),
			zap.String("user", activity.User),
			zap.String("kind", string(activity.Kind)),
		)
		return nil
	}

	entry := activityEntry{
		ResModel: activity.ResModel,
		ResID:    activity.ResID,
		User:     activity.User,
		Type:     string(activity.Kind),
		Summary:  activity.Summary,
		Note:     activity.Note,
	}
	if !activity.Deadline.IsZero() {
		entry.Deadline = activity.Deadline.Format("2006-01-02")
	}

	if err := c.post(ctx, activitiesEntitySet, entry); err != nil {
		// let a later attempt through
		if derr := c.redis.Del(ctx, key); derr != nil {
			c.logger.Warn("Failed to release activity dedup key", zap.String("key", key), zap.Error(derr))
		}
		return err
	}
	return nil
}

// NotifyMessage posts an internal message on the record
func (c *Client) NotifyMessage(ctx context.Context, msg notifier.Message) error {
	return c.post(ctx, messagesEntitySet, messageEntry{
		ResModel:   msg.ResModel,
		ResID:      msg.ResID,
		Recipients: strings.Join(msg.Recipients, ","),
		Subject:    msg.Subject,
		Body:       msg.Body,
		Internal:   true,
	})
}

// CancelPending deletes pending activities and forgets their dedup keys
func (c *Client) CancelPending(ctx context.Context, resModel, resID string, users []string) error {
	if len(users) == 0 {
		if _, err := c.redis.DelMatching(ctx, redisinfra.Key("activity", resModel, resID, "*")); err != nil {
			return fmt.Errorf("failed to clear activity dedup keys: %w", err)
		}
	} else {
		var keys []string
		for _, u := range users {
			for _, kind := range activityKinds {
				keys = append(keys, dedupKey(resModel, resID, u, kind))
			}
		}
		if err := c.redis.Del(ctx, keys...); err != nil {
			return fmt.Errorf("failed to clear activity dedup keys: %w", err)
		}
	}

	return c.post(ctx, cancellationsEntitySet, cancellationEntry{
		ResModel: resModel,
		ResID:    resID,
		Users:    strings.Join(users, ","),
	})
}

func (c *Client) post(ctx context.Context, entitySet string, payload interface{}) error {
	if !c.config.ERP.Enabled {
		c.logger.Debug("ERP integration disabled, skipping",
			zap.String("entity_set", entitySet),
			zap.Any("payload", payload),
		)
		return nil
	}

	// Build URL with company parameter
	apiURL := fmt.Sprintf("%s/ODataV4/Company('%s')/%s",
		strings.TrimRight(c.config.ERP.BaseURL, "/"),
		url.PathEscape(c.config.ERP.Company),
		entitySet,
	)

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ERP payload: %w", err)
	}

	c.logger.Info("Sending entry to ERP",
		zap.String("url", apiURL),
		zap.String("entity_set", entitySet),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create ERP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	auth := base64.StdEncoding.EncodeToString([]byte(c.config.ERP.Username + ":" + c.config.ERP.Password))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send ERP entry: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read ERP response: %w", err)
	}

	c.logger.Info("ERP response",
		zap.String("entity_set", entitySet),
		zap.Int("status_code", resp.StatusCode),
		zap.Int("body_size", len(respBody)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ERP request failed: status=%d, body=%s", resp.StatusCode, truncate(string(respBody), 500))
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
