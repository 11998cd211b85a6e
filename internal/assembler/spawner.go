package assembler

import (
	"runtime/debug"

	"github.com/nao1215/chirpline/pkg/logger"
)

// Spawner は呼び出し側が完了を待たないタスクを起動する。
type Spawner interface {
	Go(task func())
}

// GoSpawner はタスクごとにゴルーチンを起動するSpawner。
// タスク内のpanicはログに残し、プロセスを止めない。
type GoSpawner struct {
	l logger.LoggerV1
}

// NewGoSpawner は新しいGoSpawnerを生成する。
func NewGoSpawner(l logger.LoggerV1) *GoSpawner {
	return &GoSpawner{l: l}
}

func (s *GoSpawner) Go(task func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.l.Error("バックグラウンドタスクでpanicが発生",
					logger.Any("panic", r),
					logger.String("stack", string(debug.Stack())))
			}
		}()
		task()
	}()
}
