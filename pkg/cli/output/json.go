package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/fatih/color"
)

// Writer 命令输出目标，测试中可替换
var Writer io.Writer = os.Stdout

// PrintJSON 输出JSON格式
func PrintJSON(data interface{}) error {
	encoder := json.NewEncoder(Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Success 输出成功消息
func Success(format string, args ...interface{}) {
	color.New(color.FgGreen, color.Bold).Fprintf(Writer, "✅ "+format+"\n", args...)
}

// Error 输出错误消息
func Error(format string, args ...interface{}) {
	color.New(color.FgRed, color.Bold).Fprintf(Writer, "❌ "+format+"\n", args...)
}

// Info 输出信息
func Info(format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(Writer, "ℹ️  "+format+"\n", args...)
}

// Warning 输出警告
func Warning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(Writer, "⚠️  "+format+"\n", args...)
}

// KV 输出一行键值
func KV(key string, value interface{}) {
	color.New(color.FgCyan).Fprintf(Writer, "%-16s", key)
	color.New(color.Reset).Fprintf(Writer, "%v\n", value)
}
