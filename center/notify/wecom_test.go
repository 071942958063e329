package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ccfos/rds-slowsql-alert/center/slowlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type wecomServer struct {
	mu          sync.Mutex
	uploadResp  string
	sendResp    string
	sendStatus  int
	uploadName  string
	uploadBody  string
	uploadQuery string
	sendBody    string
}

func (s *wecomServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/webhook/upload_media", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.uploadQuery = r.URL.RawQuery
		f, header, err := r.FormFile("media")
		if err == nil {
			data, _ := io.ReadAll(f)
			s.uploadName = header.Filename
			s.uploadBody = string(data)
		}
		w.Write([]byte(s.uploadResp))
	})
	mux.HandleFunc("/cgi-bin/webhook/send", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		data, _ := io.ReadAll(r.Body)
		s.sendBody = string(data)
		if s.sendStatus != 0 {
			w.WriteHeader(s.sendStatus)
		}
		w.Write([]byte(s.sendResp))
	})
	return mux
}

func newTestNotifier(t *testing.T, s *wecomServer) *WeComNotifier {
	t.Helper()
	srv := httptest.NewServer(s.handler())
	t.Cleanup(srv.Close)

	n, err := NewWeComNotifier(srv.URL+"/cgi-bin/webhook/send?key=abc", 600, 5*time.Second)
	require.NoError(t, err)
	return n
}

func testReport() *slowlog.Report {
	return &slowlog.Report{InstanceId: "ins-1", FileName: "慢查询sql文件_ins-1_20240501_103100.txt", Content: []byte("# RDS慢SQL告警汇总\n")}
}

func TestDeliverSuccess(t *testing.T) {
	s := &wecomServer{
		uploadResp: `{"errcode":0,"errmsg":"ok","type":"file","media_id":"m-123","created_at":"1380000000"}`,
		sendResp:   `{"errcode":0,"errmsg":"ok"}`,
	}
	n := newTestNotifier(t, s)

	require.NoError(t, n.Deliver(context.Background(), testReport()))

	assert.Contains(t, s.uploadQuery, "key=abc")
	assert.Contains(t, s.uploadQuery, "type=file")
	assert.Equal(t, "慢查询sql文件_ins-1_20240501_103100.txt", s.uploadName)
	assert.Equal(t, "# RDS慢SQL告警汇总\n", s.uploadBody)
	assert.Equal(t, "file", gjson.Get(s.sendBody, "msgtype").String())
	assert.Equal(t, "m-123", gjson.Get(s.sendBody, "file.media_id").String())
}

func TestDeliverUploadErrCode(t *testing.T) {
	s := &wecomServer{uploadResp: `{"errcode":93000,"errmsg":"invalid webhook url"}`}
	n := newTestNotifier(t, s)

	err := n.Deliver(context.Background(), testReport())
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, StepUpload, de.Step)
	assert.Equal(t, int64(93000), de.ErrCode)
	assert.Empty(t, s.sendBody)
}

func TestDeliverMissingErrCodeIsFailure(t *testing.T) {
	s := &wecomServer{
		uploadResp: `{"errcode":0,"media_id":"m-1"}`,
		sendResp:   `{"errmsg":"ok"}`,
	}
	n := newTestNotifier(t, s)

	err := n.Deliver(context.Background(), testReport())
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, StepSend, de.Step)
	assert.Equal(t, int64(-1), de.ErrCode)
}

func TestDeliverSendHTTPError(t *testing.T) {
	s := &wecomServer{
		uploadResp: `{"errcode":0,"media_id":"m-1"}`,
		sendResp:   `{"errcode":0}`,
		sendStatus: http.StatusBadGateway,
	}
	n := newTestNotifier(t, s)

	err := n.Deliver(context.Background(), testReport())
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, StepSend, de.Step)
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
}

func TestDeliverEmptyMediaId(t *testing.T) {
	s := &wecomServer{uploadResp: `{"errcode":0}`}
	n := newTestNotifier(t, s)

	err := n.Deliver(context.Background(), testReport())
	assert.ErrorContains(t, err, "media_id")
}

func TestNewWeComNotifierValidation(t *testing.T) {
	_, err := NewWeComNotifier("not a url", 20, 0)
	assert.Error(t, err)
	_, err = NewWeComNotifier("https://qyapi.weixin.qq.com/cgi-bin/webhook/send", 20, 0)
	assert.Error(t, err)

	n, err := NewWeComNotifier("https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=k1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://qyapi.weixin.qq.com/cgi-bin/webhook/upload_media?key=k1&type=file", n.uploadURL)
}

func TestDeliverRespectsCancelledContext(t *testing.T) {
	s := &wecomServer{uploadResp: `{"errcode":0,"media_id":"m"}`, sendResp: `{"errcode":0}`}
	n := newTestNotifier(t, s)
	n.limiter.SetBurst(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, n.Deliver(ctx, testReport()))
}

func TestDeliverEmptyReportIsFailure(t *testing.T) {
	s := &wecomServer{uploadResp: `{"errcode":0,"media_id":"m"}`, sendResp: `{"errcode":0}`}
	n := newTestNotifier(t, s)

	for _, r := range []*slowlog.Report{nil, {InstanceId: "ins-1", FileName: "empty.txt"}} {
		err := n.Deliver(context.Background(), r)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEmptyReport))
	}
}
