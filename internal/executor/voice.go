package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	xerrors "Concierge-Engine/internal/errors"
	"Concierge-Engine/internal/task"
)

// Voice 模拟代用户拨打电话完成预约或咨询。
// 电话号码可以直接在参数中给出，也可以从描述文本中提取。
type Voice struct {
	driver
}

// NewVoice 创建电话执行器。
func NewVoice() *Voice {
	return &Voice{
		driver: newDriver("voice_call", false, []string{
			"resolved_number",
			"dialing",
			"in_call",
			"completed",
		}),
	}
}

// Execute 推进通话步骤。resolved_number 边界解析不出号码则终止执行。
func (v *Voice) Execute(ctx context.Context, inv *Invocation, fromStep int) Outcome {
	number := normalizePhoneNumber(paramString(inv.Params, "phone_number", ""))
	if number == "" {
		number = extractPhoneNumber(paramString(inv.Params, "description", ""))
	}
	hook := func(inv *Invocation, step string, _ int) *Outcome {
		if step == "resolved_number" && number == "" {
			outcome := Failed(xerrors.New(xerrors.CodeInvalidArgument,
				"任务参数中没有可用的电话号码"))
			return &outcome
		}
		return nil
	}
	return v.run(ctx, inv, fromStep, hook, func(inv *Invocation) Outcome {
		purpose := paramString(inv.Params, "purpose", "other")
		return Completed(&task.ExecutionResult{
			Success:            true,
			ConfirmationNumber: fmt.Sprintf("CALL-%d", time.Now().Unix()),
			Message:            fmt.Sprintf("已拨打 %s 完成通话", number),
			Details: map[string]any{
				"phone_number": number,
				"purpose":      purpose,
			},
		})
	})
}

// 依次尝试国际与国内写法，宽松匹配分隔符。
var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+81[-\s]?\d[-\s]?\d{1,4}[-\s]?\d{1,4}[-\s]?\d{3,4}`),
	regexp.MustCompile(`\+81\d{9,10}`),
	regexp.MustCompile(`0\d{1,4}[-\s]?\d{1,4}[-\s]?\d{4}`),
	regexp.MustCompile(`0\d{9,10}`),
}

// extractPhoneNumber 从自由文本中提取电话号码并归一化。
func extractPhoneNumber(text string) string {
	for _, pattern := range phonePatterns {
		if match := pattern.FindString(text); match != "" {
			return normalizePhoneNumber(match)
		}
	}
	return ""
}

var phoneSeparators = strings.NewReplacer("-", "", " ", "")

// normalizePhoneNumber 去掉分隔符，把 0 开头的国内号码转成国际格式。
func normalizePhoneNumber(raw string) string {
	if raw == "" {
		return ""
	}
	number := phoneSeparators.Replace(raw)
	if strings.HasPrefix(number, "0") {
		number = "+81" + number[1:]
	}
	return number
}

var _ Executor = (*Voice)(nil)
