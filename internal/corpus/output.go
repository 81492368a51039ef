package corpus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aihub/corpus-go/internal/scripts"
)

// Output 前端提供的输出能力
type Output = scripts.Output

// ConsoleOutput 写到终端的默认输出
type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleOutput w为nil时写stdout
func NewConsoleOutput(w io.Writer) *ConsoleOutput {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleOutput{w: w}
}

func (o *ConsoleOutput) Print(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, text)
}

// PPrint 以缩进JSON输出，无法编码时退回%+v
func (o *ConsoleOutput) PPrint(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		o.Print(fmt.Sprintf("%+v", v))
		return
	}
	o.Print(string(data))
}

func (o *ConsoleOutput) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprint(o.w, "\033[H\033[2J")
}
