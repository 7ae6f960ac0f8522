package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Kind 是承诺模板的封闭类型枚举，取代散落在各处的字符串集合判断
type Kind string

const (
	KindTask    Kind = "task"
	KindHabit   Kind = "habit"
	KindTracker Kind = "tracker"
	KindAlarm   Kind = "alarm"
)

// ParseKind 解析类型字符串，未知类型返回错误而不是静默接受
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.TrimSpace(strings.ToLower(raw))) {
	case KindTask:
		return KindTask, nil
	case KindHabit:
		return KindHabit, nil
	case KindTracker:
		return KindTracker, nil
	case KindAlarm:
		return KindAlarm, nil
	default:
		return "", fmt.Errorf("unknown template kind: %s", raw)
	}
}

// Valid 判断当前值是否为已知类型
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// ConfigMap 以 JSON 文本形式存储模板的自由配置（闹钟时间、目标值、关联选择等）
type ConfigMap map[string]string

// Value 实现 driver.Valuer，空 map 存为 "{}"
func (m ConfigMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal config map: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (m *ConfigMap) Scan(value interface{}) error {
	if value == nil {
		*m = ConfigMap{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("config map: unsupported column type")
	}

	if len(data) == 0 {
		*m = ConfigMap{}
		return nil
	}

	return json.Unmarshal(data, m)
}

// CommitmentTemplate 定义了一条循环承诺的模板
// 频率采用滑块值 + 细化字段双重表示，FrequencySet 为派生的粗粒度档位
// Permanent 为 true 时每日自动物化实例，否则按需惰性创建
// Config 持有闹钟触发时间、目标值与追踪器关联等自由配置
type CommitmentTemplate struct {
	gorm.Model
	Kind            Kind `gorm:"index"`
	Title           string
	Category        string `gorm:"index"`
	SliderValue     float64
	FrequencyCount  int
	FrequencyUnit   string
	FrequencyPeriod string
	FrequencySet    string
	Permanent       bool
	Config          ConfigMap `gorm:"type:text"`
}
