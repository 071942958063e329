package huawei

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSeconds(t *testing.T) {
	assert.Equal(t, 16.83885, parseSeconds("16.83885 s"))
	assert.Equal(t, 2.0, parseSeconds("2s"))
	assert.InDelta(t, 0.12, parseSeconds("120 ms"), 1e-9)
	assert.Equal(t, 1.5, parseSeconds(" 1.5 "))
	assert.Equal(t, 0.0, parseSeconds("n/a"))
	assert.Equal(t, 0.0, parseSeconds("-1"))
}

func TestParseRows(t *testing.T) {
	assert.Equal(t, int64(100), parseRows("100"))
	assert.Equal(t, int64(2500), parseRows("2.5e3"))
	assert.Equal(t, int64(0), parseRows(""))
}

func TestGetRegionByCode(t *testing.T) {
	r := GetRegionByCode("cn-north-4")
	if assert.NotNil(t, r) {
		assert.Equal(t, "rds.cn-north-4.myhuaweicloud.com", r.Endpoint)
	}
	assert.Nil(t, GetRegionByCode("mars-1"))
}

func TestNewHuaweiClientDefaults(t *testing.T) {
	c := NewHuaweiClient("ak", "sk", "", "cn-east-3")
	assert.Equal(t, "huawei", c.GetName())
	assert.Equal(t, "cn-east-3", c.Region())

	_, err := c.getRDSClient("no-such-region")
	assert.Error(t, err)
}
