package scripts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	EnvCorpusName = "CORPUS_NAME"
	EnvCorpusPath = "CORPUS_PATH"

	stderrTail = 2048
	// 超过该长度的行分段输出
	maxLineBytes = 1024 * 1024
	// 进程退出或被取消后等待输出管道关闭的时间
	pipeWaitDelay = 2 * time.Second
)

// lineWriter 把子进程输出按行写入Output
type lineWriter struct {
	out Output
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(w.buf[start:], '\n')
		if i < 0 {
			break
		}
		w.out.Print(strings.TrimSuffix(string(w.buf[start:start+i]), "\r"))
		start += i + 1
	}
	for len(w.buf)-start >= maxLineBytes {
		w.out.Print(string(w.buf[start : start+maxLineBytes]))
		start += maxLineBytes
	}
	w.buf = append(w.buf[:0], w.buf[start:]...)
	return len(p), nil
}

// Flush 输出末尾没有换行的内容
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.out.Print(strings.TrimSuffix(string(w.buf), "\r"))
		w.buf = w.buf[:0]
	}
}

// runProcess 以子进程运行脚本，stdout逐行写入out；取消时结束整个进程组
func runProcess(ctx context.Context, path string, host Host, out Output, args []string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = host.Path()
	cmd.Env = append(os.Environ(),
		EnvCorpusName+"="+host.Name(),
		EnvCorpusPath+"="+host.Path(),
	)
	configureProcessGroup(cmd)
	cmd.WaitDelay = pipeWaitDelay

	var stderr bytes.Buffer
	stdout := &lineWriter{out: out}
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	stdout.Flush()
	// 脚本已正常退出，只是遗留的后台进程仍占用输出管道
	if errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil {
		return nil
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
