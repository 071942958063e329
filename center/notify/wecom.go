// 企业微信群机器人文件消息投递
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ccfos/rds-slowsql-alert/center/slowlog"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/toolkits/pkg/logger"
	"golang.org/x/time/rate"
)

// 投递步骤
const (
	StepUpload = "upload"
	StepSend   = "send"
)

// ErrEmptyReport 报告为空，不能视为投递成功
var ErrEmptyReport = errors.New("empty report")

// DeliveryError 投递失败，Step 表示出错的步骤
type DeliveryError struct {
	Step       string
	StatusCode int
	ErrCode    int64
	ErrMsg     string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wecom %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("wecom %s failed: status=%d errcode=%d errmsg=%s", e.Step, e.StatusCode, e.ErrCode, e.ErrMsg)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// WeComNotifier 先上传文件获取 media_id，再发送文件消息
type WeComNotifier struct {
	webhookURL string
	uploadURL  string
	client     *http.Client
	limiter    *rate.Limiter
}

type fileMessage struct {
	MsgType string `json:"msgtype"`
	File    struct {
		MediaId string `json:"media_id"`
	} `json:"file"`
}

// NewWeComNotifier perMinute 为每分钟最多发送的消息数，群机器人限制为 20
func NewWeComNotifier(webhookURL string, perMinute int, timeout time.Duration) (*WeComNotifier, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url: %q", webhookURL)
	}
	key := u.Query().Get("key")
	if key == "" {
		return nil, fmt.Errorf("webhook url has no key parameter")
	}

	upload := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/cgi-bin/webhook/upload_media"}
	q := url.Values{}
	q.Set("key", key)
	q.Set("type", "file")
	upload.RawQuery = q.Encode()

	if perMinute <= 0 {
		perMinute = 20
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &WeComNotifier{
		webhookURL: webhookURL,
		uploadURL:  upload.String(),
		client:     &http.Client{Transport: transport, Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}, nil
}

// WithHTTPClient 替换 HTTP 客户端
func (n *WeComNotifier) WithHTTPClient(c *http.Client) *WeComNotifier {
	n.client = c
	return n
}

// Deliver 实现 slowlog.Notifier，只有两步都返回 errcode=0 才算成功
func (n *WeComNotifier) Deliver(ctx context.Context, report *slowlog.Report) error {
	if report == nil || len(report.Content) == 0 {
		return &DeliveryError{Step: StepUpload, Err: ErrEmptyReport}
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Step: StepUpload, Err: err}
	}

	mediaId, err := n.upload(ctx, report.FileName, report.Content)
	if err != nil {
		return err
	}
	logger.Infof("report %s uploaded, media_id: %s", report.FileName, mediaId)

	if err := n.send(ctx, mediaId); err != nil {
		return err
	}
	logger.Infof("report %s of instance %s sent", report.FileName, report.InstanceId)
	return nil
}

func (n *WeComNotifier) upload(ctx context.Context, fileName string, content []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("media", fileName)
	if err != nil {
		return "", &DeliveryError{Step: StepUpload, Err: err}
	}
	if _, err := part.Write(content); err != nil {
		return "", &DeliveryError{Step: StepUpload, Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &DeliveryError{Step: StepUpload, Err: err}
	}

	resp, err := n.post(ctx, StepUpload, n.uploadURL, w.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}

	mediaId := gjson.GetBytes(resp, "media_id").String()
	if mediaId == "" {
		return "", &DeliveryError{Step: StepUpload, StatusCode: http.StatusOK, ErrMsg: "empty media_id"}
	}
	return mediaId, nil
}

func (n *WeComNotifier) send(ctx context.Context, mediaId string) error {
	msg := fileMessage{MsgType: "file"}
	msg.File.MediaId = mediaId

	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(msg)
	if err != nil {
		return &DeliveryError{Step: StepSend, Err: err}
	}

	_, err = n.post(ctx, StepSend, n.webhookURL, "application/json", bytes.NewReader(payload))
	return err
}

// post 发送请求并校验 errcode，返回响应体
func (n *WeComNotifier) post(ctx context.Context, step, target, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, &DeliveryError{Step: step, Err: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &DeliveryError{Step: step, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &DeliveryError{Step: step, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DeliveryError{Step: step, StatusCode: resp.StatusCode, ErrMsg: string(data)}
	}

	code := gjson.GetBytes(data, "errcode")
	if !code.Exists() || code.Int() != 0 {
		errCode := int64(-1)
		if code.Exists() {
			errCode = code.Int()
		}
		return nil, &DeliveryError{
			Step:       step,
			StatusCode: resp.StatusCode,
			ErrCode:    errCode,
			ErrMsg:     gjson.GetBytes(data, "errmsg").String(),
		}
	}
	return data, nil
}
