package telegram

import (
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"forward_bot/internal/scheduler"
	"forward_bot/internal/telegram/models"
)

const optionNoPreview = "nopreview"

// 未指定模式时的默认调度：随机 1~3 小时
var defaultSchedule = []string{models.ScheduleModeRandom, "1h", "3h"}

var errMissingArgs = errors.New("missing arguments")

// 命令用法
const (
	usageAddUser      = "用法: /adduser <user_id>\n例如: /adduser 123456789"
	usageRemoveUser   = "用法: /removeuser <user_id>\n例如: /removeuser 123456789"
	usageSetPair      = "用法: /setpair <源频道ID> <目标频道ID>\n例如: /setpair -1001234567890 -1009876543210"
	usageStopForward  = "用法: /stopforward <源频道ID> <目标频道ID>"
	usageStartForward = "用法:\n" +
		"/startforward <源频道ID> <目标频道ID> fixed <间隔> [nopreview]\n" +
		"/startforward <源频道ID> <目标频道ID> random <最小间隔> <最大间隔> [nopreview]\n" +
		"不指定模式时默认随机 1h~3h\n" +
		"间隔示例: 30m、2h、1h30m、1d"
)

// commandArgs 返回命令后的参数
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}

// parseUserID 解析用户 ID
func parseUserID(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, errMissingArgs
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("无效的用户 ID: %s", args[0])
	}
	return id, nil
}

// parseChannelID 解析频道 ID（频道 ID 为负数，如 -100xxxxxxxxxx）
func parseChannelID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("无效的频道 ID: %s", raw)
	}
	return id, nil
}

// parseChannelPair 解析 <源频道ID> <目标频道ID>
func parseChannelPair(args []string) (int64, int64, error) {
	if len(args) < 2 {
		return 0, 0, errMissingArgs
	}
	source, err := parseChannelID(args[0])
	if err != nil {
		return 0, 0, err
	}
	target, err := parseChannelID(args[1])
	if err != nil {
		return 0, 0, err
	}
	if source == target {
		return 0, 0, fmt.Errorf("源频道与目标频道不能相同")
	}
	return source, target, nil
}

// startForwardArgs /startforward 参数
type startForwardArgs struct {
	Source              int64
	Target              int64
	Mode                string
	Params              []string
	PreserveLinkPreview bool
}

// parseStartForwardArgs 解析 <源> <目标> fixed <t> | random <min> <max> [nopreview]
// 间隔本身由调度器校验；省略模式时使用 defaultSchedule
func parseStartForwardArgs(args []string) (startForwardArgs, error) {
	source, target, err := parseChannelPair(args)
	if err != nil {
		return startForwardArgs{}, err
	}

	result := startForwardArgs{
		Source:              source,
		Target:              target,
		PreserveLinkPreview: true,
	}

	rest := args[2:]
	if n := len(rest); n > 0 && strings.EqualFold(rest[n-1], optionNoPreview) {
		result.PreserveLinkPreview = false
		rest = rest[:n-1]
	}
	if len(rest) == 0 {
		rest = defaultSchedule
	}

	result.Mode = strings.ToLower(rest[0])
	result.Params = append([]string(nil), rest[1:]...)

	return result, nil
}

// describeStartError 将调度器错误转换为用户可读提示
func describeStartError(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrInvalidTimeFormat):
		return "时间格式无效，示例: 30m、2h、1h30m、1d"
	case errors.Is(err, scheduler.ErrInvalidConfiguration):
		return "参数无效: " + strings.TrimPrefix(err.Error(), scheduler.ErrInvalidConfiguration.Error()+": ")
	case errors.Is(err, scheduler.ErrPersistence):
		return "保存任务失败，请稍后重试"
	case errors.Is(err, scheduler.ErrRegistryClosed):
		return "服务正在关闭，请稍后重试"
	default:
		return "操作失败，请稍后重试"
	}
}

// stateDisplayName 执行状态显示名称
func stateDisplayName(state string) string {
	switch state {
	case "idle", "fetching", "filtering", "sending", "advancing":
		return "运行中"
	case "sleeping":
		return "等待下一轮"
	case "failed":
		return "已失败"
	case "paused":
		return "已暂停"
	default:
		return "已停止"
	}
}

// formatChannel 频道显示：有标题时显示标题与 ID
func formatChannel(title string, id int64) string {
	if title == "" {
		return fmt.Sprintf("<code>%d</code>", id)
	}
	return fmt.Sprintf("%s (<code>%d</code>)", html.EscapeString(title), id)
}

// formatTaskStatuses 构建 /status 文本
func formatTaskStatuses(statuses []scheduler.TaskStatus) string {
	if len(statuses) == 0 {
		return "📭 暂无转发任务\n使用 /setpair 或 /startforward 创建任务"
	}

	var text strings.Builder
	text.WriteString("📋 转发任务\n")
	for i, st := range statuses {
		icon := "⏸"
		if st.Running {
			icon = "▶️"
		}

		fmt.Fprintf(&text, "\n%d. %s %s → %s\n", i+1, icon,
			formatChannel(st.SourceTitle, st.Key.SourceChannelID),
			formatChannel(st.TargetTitle, st.Key.TargetChannelID))
		fmt.Fprintf(&text, "   状态: %s\n", stateDisplayName(st.State))
		fmt.Fprintf(&text, "   调度: %s\n", html.EscapeString(st.Schedule))
		fmt.Fprintf(&text, "   水位线: %d\n", st.Watermark)
		if !st.Active && st.LastError != "" {
			fmt.Fprintf(&text, "   ⚠️ 最近错误: %s\n", html.EscapeString(st.LastError))
		}
	}
	return strings.TrimRight(text.String(), "\n")
}

// formatStats 构建 /stats 文本
func formatStats(stats *scheduler.Stats) string {
	lines := []string{
		"📊 转发统计",
		fmt.Sprintf("任务总数: %d", stats.Tasks),
		fmt.Sprintf("启用任务: %d", stats.ActiveTasks),
		fmt.Sprintf("运行中: %d", stats.RunningTasks),
		fmt.Sprintf("已转发消息: %d", stats.Forwarded),
	}

	if n := stats.Counters["skipped_"+scheduler.SkipReasonDuplicateContent]; n > 0 {
		lines = append(lines, fmt.Sprintf("重复内容跳过: %d", n))
	}
	if n := stats.Counters["send_errors"]; n > 0 {
		lines = append(lines, fmt.Sprintf("发送失败: %d", n))
	}
	return strings.Join(lines, "\n")
}

// formatUserList 构建 /listusers 文本
func formatUserList(users []*models.User) string {
	if len(users) == 0 {
		return "📝 白名单为空"
	}

	var text strings.Builder
	text.WriteString("👥 授权用户:\n\n")
	for i, user := range users {
		roleEmoji := "👤"
		if user.IsOwner() {
			roleEmoji = "👑"
		}
		name := user.FirstName
		if user.Username != "" {
			name += " (@" + user.Username + ")"
		}
		if strings.TrimSpace(name) == "" {
			name = "未知"
		}
		fmt.Fprintf(&text, "%d. %s %s - ID: <code>%d</code>\n", i+1, roleEmoji, html.EscapeString(name), user.TelegramID)
	}
	return strings.TrimRight(text.String(), "\n")
}
