package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"dosgo/btSerial/comm"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

const maxFrames = 500

// AppUI is the desktop monitor: it drives the bridge and shows what the
// device sends.
type AppUI struct {
	app        fyne.App
	window     fyne.Window
	config     *comm.Config
	configPath string
	logger     *slog.Logger

	// bridge is swapped on each start; the relay reads it from its own goroutines.
	bridge       atomic.Pointer[comm.Bridge]
	closeAdapter func() error
	relay        *comm.Relay
	stopRelay    context.CancelFunc

	// UI widgets
	patternEntry *widget.Entry
	autoStart    *widget.Check
	startBtn     *widget.Button
	hideBtn      *widget.Button
	stateLabel   *widget.Label
	peerLabel    *widget.Label
	cmdEntry     *widget.Entry
	frameList    *widget.List

	// frames is only touched on the fyne main goroutine.
	frames []string

	showMenu *fyne.MenuItem
	quitMenu *fyne.MenuItem
}

func NewAppUI(cfg *comm.Config, configPath string, logger *slog.Logger) *AppUI {
	a := app.NewWithID("com.bluetooth.serial")
	w := a.NewWindow("Bluetooth Serial Monitor")
	a.SetIcon(theme.ComputerIcon())

	return &AppUI{
		app:        a,
		window:     w,
		config:     cfg,
		configPath: configPath,
		logger:     logger,
	}
}

func (ui *AppUI) createUI() fyne.CanvasObject {
	ui.patternEntry = widget.NewEntry()
	ui.patternEntry.SetPlaceHolder("Device names, comma separated (e.g. HC-05, ESP32)")
	ui.patternEntry.SetText(strings.Join(ui.config.Patterns, ", "))
	ui.patternEntry.Validator = func(s string) error {
		if len(splitPatterns(s)) == 0 {
			return errors.New("at least one device name is required")
		}
		return nil
	}
	ui.patternEntry.OnSubmitted = func(string) { ui.syncConf() }

	ui.autoStart = widget.NewCheck("Connect on launch", func(checked bool) {
		ui.config.AutoStart = checked
		ui.syncConf()
	})
	ui.autoStart.SetChecked(ui.config.AutoStart)

	ui.startBtn = widget.NewButton("Start", func() {
		switch ui.bridge.Load().State() {
		case comm.Connecting, comm.Connected, comm.Reading:
			ui.stopBridge()
		default:
			ui.startBridge()
		}
	})
	ui.startBtn.Importance = widget.HighImportance

	ui.hideBtn = widget.NewButton("Hide to tray", func() {
		ui.hideToTray()
	})

	ui.stateLabel = widget.NewLabel(comm.Idle.String())
	ui.peerLabel = widget.NewLabel("no device")

	ui.frameList = widget.NewList(
		func() int { return len(ui.frames) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, o fyne.CanvasObject) {
			o.(*widget.Label).SetText(ui.frames[id])
		},
	)

	ui.cmdEntry = widget.NewEntry()
	ui.cmdEntry.SetPlaceHolder("Command to send")
	sendBtn := widget.NewButtonWithIcon("", theme.MailSendIcon(), func() {
		ui.sendCommand(ui.cmdEntry.Text)
	})
	ui.cmdEntry.OnSubmitted = ui.sendCommand
	clearBtn := widget.NewButtonWithIcon("", theme.ContentClearIcon(), func() {
		ui.frames = ui.frames[:0]
		ui.frameList.Refresh()
	})

	statusBar := container.NewHBox(
		ui.peerLabel,
		layout.NewSpacer(),
		ui.stateLabel,
	)

	top := container.NewVBox(
		widget.NewLabelWithStyle("Allowed devices", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		ui.patternEntry,
		ui.autoStart,
		container.NewHBox(ui.startBtn, layout.NewSpacer(), clearBtn, ui.hideBtn),
		widget.NewSeparator(),
	)
	bottom := container.NewVBox(
		container.NewBorder(nil, nil, nil, sendBtn, ui.cmdEntry),
		widget.NewSeparator(),
		statusBar,
	)
	return container.NewPadded(container.NewBorder(top, bottom, nil, nil, ui.frameList))
}

func splitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// syncConf copies the form into the config and saves it.
func (ui *AppUI) syncConf() {
	if patterns := splitPatterns(ui.patternEntry.Text); len(patterns) > 0 {
		ui.config.Patterns = patterns
	}
	if err := comm.SaveConfig(ui.configPath, ui.config); err != nil {
		ui.logger.Error("save config", "err", err)
	}
}

// newBridge builds the bridge from the current config. The pattern list is
// fixed for a bridge's lifetime, so edits take effect on the next start.
func (ui *AppUI) newBridge() error {
	if ui.closeAdapter != nil {
		ui.closeAdapter()
		ui.closeAdapter = nil
	}
	adapter, closeAdapter, err := ui.config.NewAdapter(ui.logger)
	if err != nil {
		return err
	}
	opts := ui.config.BridgeOptions()
	opts.Logger = ui.logger
	opts.OnFrame = ui.onFrame
	opts.OnStatus = ui.onStatus
	ui.bridge.Store(comm.NewBridge(adapter, ui.config.NewTransport(), opts))
	ui.closeAdapter = closeAdapter
	return nil
}

func (ui *AppUI) startBridge() {
	if err := ui.patternEntry.Validate(); err != nil {
		dialog.ShowError(fmt.Errorf("device names: %w", err), ui.window)
		return
	}
	ui.syncConf()
	if err := ui.newBridge(); err != nil {
		dialog.ShowError(err, ui.window)
		return
	}
	bridge := ui.bridge.Load()
	ui.startBtn.Disable()
	// Connecting blocks until the peer answers; keep the UI responsive.
	go func() {
		err := bridge.Start(context.Background())
		fyne.Do(func() {
			ui.startBtn.Enable()
			if errors.Is(err, comm.ErrNoMatchingPeer) {
				dialog.ShowInformation("No device", "No paired device matches "+strings.Join(ui.config.Patterns, ", ")+". Pair one and try again.", ui.window)
			} else if err != nil && bridge.State() != comm.Stopped {
				// Stopped means the user cancelled the connect.
				dialog.ShowError(err, ui.window)
			}
		})
	}()
}

func (ui *AppUI) stopBridge() {
	go ui.bridge.Load().Stop()
}

func (ui *AppUI) sendCommand(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := ui.bridge.Load().Send([]byte(text + "\n")); err != nil {
		dialog.ShowError(err, ui.window)
		return
	}
	ui.cmdEntry.SetText("")
}

// onFrame runs on the read loop; the UI update is handed to fyne and the
// relay has its own per-client buffers, so neither blocks reading.
func (ui *AppUI) onFrame(text string) {
	if ui.relay != nil {
		ui.relay.Publish(text)
	}
	fyne.Do(func() {
		ui.frames = append(ui.frames, text)
		if len(ui.frames) > maxFrames {
			ui.frames = ui.frames[len(ui.frames)-maxFrames:]
		}
		ui.frameList.Refresh()
		ui.frameList.ScrollToBottom()
	})
}

func (ui *AppUI) onStatus(st comm.Status) {
	fyne.Do(func() {
		ui.stateLabel.SetText(st.State.String())
		if st.Peer.Address != "" {
			ui.peerLabel.SetText(st.Peer.String())
		}
		switch st.State {
		case comm.Connecting, comm.Connected, comm.Reading:
			ui.startBtn.SetText("Stop")
		default:
			ui.startBtn.SetText("Start")
		}
		if st.Err != nil && errors.Is(st.Err, comm.ErrRead) {
			dialog.ShowError(st.Err, ui.window)
		}
	})
}

func (ui *AppUI) startRelay() {
	if ui.config.RelayListen == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ui.stopRelay = cancel
	ui.relay = comm.NewRelay(ui.config.RelayListen, relayTarget{ui}, ui.logger)
	go func() {
		if err := ui.relay.Run(ctx); err != nil {
			ui.logger.Error("relay stopped", "err", err)
		}
	}()
}

// relayTarget sends through whichever bridge is current.
type relayTarget struct{ ui *AppUI }

func (r relayTarget) Send(p []byte) error {
	return r.ui.bridge.Load().Send(p)
}

func (ui *AppUI) hideToTray() {
	if desk, ok := ui.app.(desktop.App); ok {
		ui.setupTray(desk)
		ui.window.Hide()
		if ui.showMenu != nil {
			ui.showMenu.Disabled = false
		}
	} else {
		dialog.ShowInformation("Tray", "This platform has no system tray", ui.window)
	}
}

func (ui *AppUI) setupTray(desk desktop.App) {
	ui.showMenu = fyne.NewMenuItem("Show window", func() {
		ui.window.Show()
		ui.showMenu.Disabled = true
	})
	ui.quitMenu = fyne.NewMenuItem("Quit", func() {
		ui.app.Quit()
	})
	desk.SetSystemTrayMenu(fyne.NewMenu("Bluetooth Serial",
		ui.showMenu,
		fyne.NewMenuItemSeparator(),
		ui.quitMenu,
	))
}

func (ui *AppUI) shutdown() {
	ui.bridge.Load().Stop()
	if ui.stopRelay != nil {
		ui.stopRelay()
	}
	if ui.closeAdapter != nil {
		ui.closeAdapter()
	}
}

func (ui *AppUI) Run() {
	// An idle bridge so the buttons have something to ask before the first start.
	ui.bridge.Store(comm.NewBridge(nil, nil, comm.Options{Logger: ui.logger}))

	ui.window.SetContent(ui.createUI())
	ui.window.Resize(fyne.NewSize(480, 560))
	ui.window.SetMaster()
	ui.window.CenterOnScreen()

	if desk, ok := ui.app.(desktop.App); ok {
		ui.setupTray(desk)
		ui.showMenu.Disabled = true
		ui.window.SetCloseIntercept(func() {
			ui.window.Hide()
			ui.showMenu.Disabled = false
		})
	}
	ui.app.Lifecycle().SetOnStopped(ui.shutdown)

	ui.startRelay()
	if ui.config.AutoStart {
		ui.startBridge()
	}
	ui.window.ShowAndRun()
}
