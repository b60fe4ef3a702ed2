package stream

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// killTimeout はSIGTERM後にSIGKILLへ切り替えるまでの時間
const killTimeout = 5 * time.Second

// Process は起動済みのフィード
type Process interface {
	// Terminate はフィードを終了させ、終了を待つ。冪等
	Terminate() error

	// Exited はフィードが終了すると閉じるチャンネルを返す
	Exited() <-chan struct{}
}

// Launcher はフィードを起動する
type Launcher interface {
	Launch() (Process, error)
}

// CommandLauncher はシェルのパイプラインを独立したプロセスグループで起動する
type CommandLauncher struct {
	script string
}

// NewCommandLauncher は bash -c で script を実行するLauncherを作成する
func NewCommandLauncher(script string) *CommandLauncher {
	return &CommandLauncher{script: script}
}

// NewPipelineLauncher はカメラのライブビューを仮想カメラへ流すLauncherを作成する
func NewPipelineLauncher(virtualDevice string, width, height, fps int) *CommandLauncher {
	return NewCommandLauncher(fmt.Sprintf(
		"gphoto2 --capture-movie --stdout | ffmpeg -f mjpeg -i - "+
			"-vf scale=%d:%d -vcodec rawvideo -pix_fmt yuv420p -r %d "+
			"-f v4l2 %s",
		width, height, fps, virtualDevice,
	))
}

// Launch はパイプラインを起動する
func (l *CommandLauncher) Launch() (Process, error) {
	cmd := exec.Command("bash", "-c", l.script)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("フィードの起動に失敗: %w", err)
	}

	p := &groupProcess{
		cmd:  cmd,
		pgid: cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait() // SIGTERMによる終了もエラーになるため無視する
		close(p.done)
	}()

	log.Debug().Int("pgid", p.pgid).Msg("フィードを起動しました")
	return p, nil
}

// groupProcess はプロセスグループ単位で終了させるProcess実装
type groupProcess struct {
	cmd  *exec.Cmd
	pgid int
	done chan struct{}

	once    sync.Once
	termErr error
}

func (p *groupProcess) Exited() <-chan struct{} {
	return p.done
}

func (p *groupProcess) Terminate() error {
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		if err := unix.Kill(-p.pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			p.termErr = fmt.Errorf("フィードへのSIGTERM送信に失敗: %w", err)
			return
		}

		timer := time.NewTimer(killTimeout)
		defer timer.Stop()

		select {
		case <-p.done:
		case <-timer.C:
			log.Warn().Int("pgid", p.pgid).Msg("フィードが終了しないためSIGKILLを送信します")
			_ = unix.Kill(-p.pgid, unix.SIGKILL)
			<-p.done
		}
	})
	return p.termErr
}

// NoopLauncher はフィードプロセスを持たないWebカメラモード用のLauncher
type NoopLauncher struct{}

// Launch は何もしないProcessを返す
func (NoopLauncher) Launch() (Process, error) {
	return &noopProcess{done: make(chan struct{})}, nil
}

type noopProcess struct {
	once sync.Once
	done chan struct{}
}

func (p *noopProcess) Terminate() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *noopProcess) Exited() <-chan struct{} {
	return p.done
}
