package scheduler

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"forward_bot/internal/telegram/models"
)

// MinIntervalSeconds 间隔下限，防止触发平台限流
const MinIntervalSeconds = 60

var unitSeconds = map[string]int64{
	"s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,
	"m": 60, "min": 60, "mins": 60, "minute": 60, "minutes": 60,
	"h": 3600, "hr": 3600, "hrs": 3600, "hour": 3600, "hours": 3600,
	"d": 86400, "day": 86400, "days": 86400,
}

var timeToken = regexp.MustCompile(`(\d+)\s*([a-z]*)`)

// ParseTime 将 "1h30m"、"2h"、"90m" 之类的时间串解析为秒数
// 末尾不带单位的数字按分钟计算，结果不低于 MinIntervalSeconds
func ParseTime(raw string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidTimeFormat)
	}

	matches := timeToken.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
	}

	var total int64
	consumed := 0
	for i, m := range matches {
		if strings.TrimSpace(s[consumed:m[0]]) != "" {
			return 0, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidTimeFormat, s[consumed:m[0]], raw)
		}
		consumed = m[1]

		value, err := strconv.ParseInt(s[m[2]:m[3]], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, raw)
		}

		unit := s[m[4]:m[5]]
		if unit == "" {
			if i != len(matches)-1 {
				return 0, fmt.Errorf("%w: number without unit in %q", ErrInvalidTimeFormat, raw)
			}
			unit = "m"
		}

		mult, ok := unitSeconds[unit]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidTimeFormat, unit)
		}
		if value > (math.MaxInt32-total)/mult {
			return 0, fmt.Errorf("%w: %q is too large", ErrInvalidTimeFormat, raw)
		}
		total += value * mult
	}

	if strings.TrimSpace(s[consumed:]) != "" {
		return 0, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidTimeFormat, s[consumed:], raw)
	}

	if total < MinIntervalSeconds {
		total = MinIntervalSeconds
	}
	return int(total), nil
}

// Schedule 调度配置
type Schedule struct {
	Mode         string
	FixedSeconds int
	MinSeconds   int
	MaxSeconds   int
}

// Validate 校验调度配置
func (s Schedule) Validate() error {
	switch s.Mode {
	case models.ScheduleModeFixed:
		if s.FixedSeconds <= 0 {
			return fmt.Errorf("%w: fixed interval must be positive", ErrInvalidConfiguration)
		}
	case models.ScheduleModeRandom:
		if s.MinSeconds < MinIntervalSeconds {
			return fmt.Errorf("%w: minimum interval must be at least %ds", ErrInvalidConfiguration, MinIntervalSeconds)
		}
		if s.MinSeconds >= s.MaxSeconds {
			return fmt.Errorf("%w: min interval %ds must be less than max %ds", ErrInvalidConfiguration, s.MinSeconds, s.MaxSeconds)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, s.Mode)
	}
	return nil
}

// Apply 写入任务的调度字段
func (s Schedule) Apply(task *models.ForwardingTask) {
	task.Mode = s.Mode
	task.FixedIntervalSeconds = 0
	task.MinIntervalSeconds = 0
	task.MaxIntervalSeconds = 0

	switch s.Mode {
	case models.ScheduleModeFixed:
		task.FixedIntervalSeconds = s.FixedSeconds
	case models.ScheduleModeRandom:
		task.MinIntervalSeconds = s.MinSeconds
		task.MaxIntervalSeconds = s.MaxSeconds
	}
}

// ParseSchedule 解析命令参数：fixed <time> 或 random <min> <max>
func ParseSchedule(mode string, args []string) (Schedule, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))

	var sched Schedule
	switch mode {
	case models.ScheduleModeFixed:
		if len(args) != 1 {
			return Schedule{}, fmt.Errorf("%w: fixed mode needs exactly one interval", ErrInvalidConfiguration)
		}
		seconds, err := ParseTime(args[0])
		if err != nil {
			return Schedule{}, err
		}
		sched = Schedule{Mode: mode, FixedSeconds: seconds}
	case models.ScheduleModeRandom:
		if len(args) != 2 {
			return Schedule{}, fmt.Errorf("%w: random mode needs min and max intervals", ErrInvalidConfiguration)
		}
		minSeconds, err := ParseTime(args[0])
		if err != nil {
			return Schedule{}, err
		}
		maxSeconds, err := ParseTime(args[1])
		if err != nil {
			return Schedule{}, err
		}
		sched = Schedule{Mode: mode, MinSeconds: minSeconds, MaxSeconds: maxSeconds}
	default:
		return Schedule{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, mode)
	}

	if err := sched.Validate(); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

// NextDelay 计算任务下一次执行前的等待时间
func NextDelay(task *models.ForwardingTask) (time.Duration, error) {
	switch task.Mode {
	case models.ScheduleModeFixed:
		seconds := task.FixedIntervalSeconds
		if seconds < MinIntervalSeconds {
			seconds = MinIntervalSeconds
		}
		return time.Duration(seconds) * time.Second, nil
	case models.ScheduleModeRandom:
		lo, hi := task.MinIntervalSeconds, task.MaxIntervalSeconds
		if lo >= hi {
			return 0, fmt.Errorf("%w: min interval %ds must be less than max %ds", ErrInvalidConfiguration, lo, hi)
		}
		seconds := lo + rand.Intn(hi-lo+1)
		return time.Duration(seconds) * time.Second, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, task.Mode)
	}
}

// DescribeSchedule 调度配置的可读描述
func DescribeSchedule(task *models.ForwardingTask) string {
	switch task.Mode {
	case models.ScheduleModeFixed:
		seconds := task.FixedIntervalSeconds
		if seconds < MinIntervalSeconds {
			seconds = MinIntervalSeconds
		}
		return "每 " + FormatDuration(time.Duration(seconds)*time.Second)
	case models.ScheduleModeRandom:
		return fmt.Sprintf("随机 %s ~ %s",
			FormatDuration(time.Duration(task.MinIntervalSeconds)*time.Second),
			FormatDuration(time.Duration(task.MaxIntervalSeconds)*time.Second))
	default:
		return "未配置"
	}
}

// FormatDuration 将持续时间格式化为人类可读的字符串
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d天", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d小时", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d分钟", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%d秒", seconds))
	}

	return strings.Join(parts, " ")
}
