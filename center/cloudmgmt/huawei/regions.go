// 华为云 RDS 区域配置
package huawei

// Region 华为云区域信息
type Region struct {
	Region   string
	Name     string
	Endpoint string
}

var huaweiRegions = []Region{
	// 中国大陆
	{Region: "cn-north-1", Name: "华北-北京一", Endpoint: "rds.cn-north-1.myhuaweicloud.com"},
	{Region: "cn-north-4", Name: "华北-北京四", Endpoint: "rds.cn-north-4.myhuaweicloud.com"},
	{Region: "cn-north-9", Name: "华北-乌兰察布一", Endpoint: "rds.cn-north-9.myhuaweicloud.com"},
	{Region: "cn-east-2", Name: "华东-上海二", Endpoint: "rds.cn-east-2.myhuaweicloud.com"},
	{Region: "cn-east-3", Name: "华东-上海一", Endpoint: "rds.cn-east-3.myhuaweicloud.com"},
	{Region: "cn-south-1", Name: "华南-广州", Endpoint: "rds.cn-south-1.myhuaweicloud.com"},
	{Region: "cn-south-2", Name: "华南-深圳", Endpoint: "rds.cn-south-2.myhuaweicloud.com"},
	{Region: "cn-southwest-2", Name: "西南-贵阳一", Endpoint: "rds.cn-southwest-2.myhuaweicloud.com"},

	// 中国香港/亚太
	{Region: "ap-southeast-1", Name: "中国-香港", Endpoint: "rds.ap-southeast-1.myhuaweicloud.com"},
	{Region: "ap-southeast-2", Name: "亚太-曼谷", Endpoint: "rds.ap-southeast-2.myhuaweicloud.com"},
	{Region: "ap-southeast-3", Name: "亚太-新加坡", Endpoint: "rds.ap-southeast-3.myhuaweicloud.com"},
}

// GetRegionByCode 根据区域代码获取区域信息，未收录的区域返回 nil
func GetRegionByCode(code string) *Region {
	for _, r := range huaweiRegions {
		if r.Region == code {
			return &r
		}
	}
	return nil
}
