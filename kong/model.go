package kong

// ServiceObject Kong Service 对象
//
// name 是唯一能还原注册中心层级的字段，见 naming 包。
type ServiceObject struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Host     string   `json:"host,omitempty"`
	Port     int      `json:"port,omitempty"`
	Protocol string   `json:"protocol,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// UpstreamObject Kong Upstream 对象
type UpstreamObject struct {
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// TargetObject Kong Target 对象，归属于获取它的 Upstream
type TargetObject struct {
	ID     string   `json:"id,omitempty"`
	Target string   `json:"target,omitempty"`
	Weight uint32   `json:"weight"`
	Tags   []string `json:"tags,omitempty"`
}

// ServiceObjectList Admin API 列表响应
type ServiceObjectList struct {
	Data []ServiceObject `json:"data"`
	Next string          `json:"next,omitempty"`
}

// UpstreamObjectList Admin API 列表响应
type UpstreamObjectList struct {
	Data []UpstreamObject `json:"data"`
	Next string           `json:"next,omitempty"`
}

// TargetObjectList Admin API 列表响应
type TargetObjectList struct {
	Data []TargetObject `json:"data"`
	Next string         `json:"next,omitempty"`
}

// Conventions 新建对象时使用的默认值，来自配置
type Conventions struct {
	DefaultGroup    string `mapstructure:"default_group"`
	DefaultPort     int    `mapstructure:"default_port"`
	DefaultProtocol string `mapstructure:"default_protocol"`
}

// DefaultConventions 返回 default/80/http
func DefaultConventions() Conventions {
	return Conventions{
		DefaultGroup:    "default",
		DefaultPort:     80,
		DefaultProtocol: "http",
	}
}

// WithDefaults 用默认值补齐未设置的字段
func (c Conventions) WithDefaults() Conventions {
	d := DefaultConventions()
	if c.DefaultGroup == "" {
		c.DefaultGroup = d.DefaultGroup
	}
	if c.DefaultPort == 0 {
		c.DefaultPort = d.DefaultPort
	}
	if c.DefaultProtocol == "" {
		c.DefaultProtocol = d.DefaultProtocol
	}
	return c
}
