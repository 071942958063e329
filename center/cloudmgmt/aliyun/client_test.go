package aliyun

import (
	"context"
	"errors"
	"testing"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	resp    map[string]interface{}
	err     error
	action  string
	queries map[string]string
}

func (f *fakeCaller) CallApi(params *openapi.Params, request *openapi.OpenApiRequest, runtime *util.RuntimeOptions) (map[string]interface{}, error) {
	f.action = tea.StringValue(params.Action)
	f.queries = make(map[string]string)
	for k, v := range request.Query {
		f.queries[k] = tea.StringValue(v)
	}
	return f.resp, f.err
}

func sampleResponse() map[string]interface{} {
	return map[string]interface{}{
		"statusCode": 200,
		"body": map[string]interface{}{
			"TotalRecordCount": float64(150),
			"PageNumber":       float64(1),
			"PageRecordCount":  float64(2),
			"Items": map[string]interface{}{
				"SQLSlowRecord": []interface{}{
					map[string]interface{}{
						"DBName":             "orders",
						"ExecutionStartTime": "2024-05-01T02:30:05Z",
						"QueryTimes":         float64(3),
						"QueryTimeMS":        float64(3120),
						"LockTimes":          float64(0),
						"ReturnRowCounts":    float64(1),
						"ParseRowCounts":     float64(90000),
						"HostAddress":        "app[app] @ [10.0.0.1]",
						"SQLText":            "select * from orders",
						"SQLHash":            "U2FsdGVk",
						"ThreadID":           float64(1234),
					},
					map[string]interface{}{
						"DBName":             "orders",
						"ExecutionStartTime": "2024-05-01T02:30:40Z",
						"QueryTimes":         "2",
						"ReturnRowCounts":    "7",
						"SQLText":            "select 2",
					},
				},
			},
		},
	}
}

func TestDescribeSlowLogRecords(t *testing.T) {
	caller := &fakeCaller{resp: sampleResponse()}
	c := newAliyunClient(caller, 0)

	page, err := c.DescribeSlowLogRecords(context.Background(), "rm-1", "2024-05-01T02:30Z", "2024-05-01T02:31Z", "orders", 1)
	require.NoError(t, err)

	assert.Equal(t, "DescribeSlowLogRecords", caller.action)
	assert.Equal(t, "rm-1", caller.queries["DBInstanceId"])
	assert.Equal(t, "2024-05-01T02:30Z", caller.queries["StartTime"])
	assert.Equal(t, "orders", caller.queries["DBName"])
	assert.Equal(t, "100", caller.queries["PageSize"])
	assert.Equal(t, "1", caller.queries["PageNumber"])

	assert.Equal(t, 150, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Records, 2)

	r := page.Records[0]
	assert.Equal(t, "orders", r.DBName)
	assert.Equal(t, int64(90000), r.ParseRowCounts)
	assert.Equal(t, "1234", r.ThreadID)
	assert.InDelta(t, 3.12, r.Seconds(), 1e-9)

	assert.Equal(t, 2.0, page.Records[1].Seconds())
	assert.Equal(t, int64(7), page.Records[1].ReturnRowCounts)
}

func TestDescribeSlowLogRecordsAllDatabases(t *testing.T) {
	caller := &fakeCaller{resp: sampleResponse()}
	c := newAliyunClient(caller, 50)

	page, err := c.DescribeSlowLogRecords(context.Background(), "rm-1", "s", "e", "", 3)
	require.NoError(t, err)
	_, hasDB := caller.queries["DBName"]
	assert.False(t, hasDB)
	assert.Equal(t, "50", caller.queries["PageSize"])
	// 3 * 50 >= 150
	assert.False(t, page.HasMore)
}

func TestDescribeSlowLogRecordsErrors(t *testing.T) {
	c := newAliyunClient(&fakeCaller{err: errors.New("InvalidAccessKeyId.NotFound")}, 0)
	_, err := c.DescribeSlowLogRecords(context.Background(), "rm-1", "s", "e", "", 1)
	assert.ErrorContains(t, err, "InvalidAccessKeyId")

	c = newAliyunClient(&fakeCaller{resp: map[string]interface{}{"statusCode": 200}}, 0)
	_, err = c.DescribeSlowLogRecords(context.Background(), "rm-1", "s", "e", "", 1)
	assert.Error(t, err)
}

func TestPageSizeBounds(t *testing.T) {
	assert.Equal(t, 100, newAliyunClient(nil, 500).PageSize())
	assert.Equal(t, 30, newAliyunClient(nil, 10).PageSize())
}

func TestNewAliyunClientRequiresCredentials(t *testing.T) {
	_, err := NewAliyunClient(Config{})
	assert.Error(t, err)
}
