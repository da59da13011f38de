package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meridianpay/x402-wallet/internal/config"
	"github.com/meridianpay/x402-wallet/internal/custodial"
	"github.com/meridianpay/x402-wallet/internal/errs"
	"github.com/meridianpay/x402-wallet/internal/logger"
	"github.com/meridianpay/x402-wallet/internal/payment"
	"github.com/meridianpay/x402-wallet/internal/wallet"
)

const maxHistoryLines = 200

// Typed messages delivered back into the model from async wallet work.
type (
	// SessionReady is sent once the wallet session has an account.
	SessionReady struct {
		Address string
		Name    string
		Balance float64
	}

	// SessionFailed is sent when session initialization fails.
	SessionFailed struct {
		Err error
	}

	// CommandOutput carries the result of a dispatched shell command.
	CommandOutput struct {
		Lines []string
		Err   error
	}
)

type shellState int

const (
	stateConnecting shellState = iota
	stateReady
	stateBusy
	stateFailed
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	accountStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	outputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	historyStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// Model is the interactive wallet shell: one input line, a scrolling
// history of command output, and async wallet operations dispatched as
// tea commands so the UI never blocks on the network.
type Model struct {
	cfg     *config.Config
	session *wallet.Session
	client  *payment.Client

	state   shellState
	address string
	name    string
	balance float64

	input   textinput.Model
	spinner spinner.Model
	history []string
	width   int
	height  int
	quit    bool
}

func NewModel(cfg *config.Config) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Placeholder = "balance, fund, info, get <tier>, help"
	ti.Prompt = "> "
	ti.PromptStyle = promptStyle
	ti.CharLimit = 128
	ti.Focus()

	return Model{
		cfg:     cfg,
		state:   stateConnecting,
		input:   ti,
		spinner: sp,
		history: []string{},
		width:   80,
		height:  24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.connectCmd(),
	)
}

func (m Model) connectCmd() tea.Cmd {
	cfg := m.cfg
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		session := wallet.NewSession(cfg, custodial.NewClient(cfg))
		account, err := session.GetOrCreateAccount(ctx)
		if err != nil {
			return SessionFailed{Err: err}
		}
		return sessionReadyMsg(session, account.Address, account.Name, session.GetBalance(ctx))
	}
}

// sessionReadyMsg smuggles the session through the message since tea
// messages flow by value back into Update.
func sessionReadyMsg(session *wallet.Session, address, name string, balance float64) tea.Msg {
	return readyWithSession{
		SessionReady: SessionReady{Address: address, Name: name, Balance: balance},
		session:      session,
	}
}

type readyWithSession struct {
	SessionReady
	session *wallet.Session
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		case "enter":
			if m.state == stateReady {
				line := strings.TrimSpace(m.input.Value())
				m.input.SetValue("")
				if line != "" {
					return m.dispatch(line)
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case readyWithSession:
		m.session = msg.session
		m.client = payment.NewClient(msg.session)
		m.address = msg.Address
		m.name = msg.Name
		m.balance = msg.Balance
		m.state = stateReady
		m.append(successStyle.Render(fmt.Sprintf("Connected as %s (%s)", msg.Name, msg.Address)))

	case SessionFailed:
		m.state = stateFailed
		m.append(errorStyle.Render(fmt.Sprintf("Session failed: %v", msg.Err)))
		m.append(footerStyle.Render("Fix the configuration and restart. Press esc to exit."))

	case CommandOutput:
		m.state = stateReady
		if msg.Err != nil {
			m.append(errorStyle.Render(describeError(msg.Err)))
		}
		for _, line := range msg.Lines {
			m.append(outputStyle.Render(line))
		}
		if m.session != nil {
			if value, ok := m.session.LastKnownBalance(); ok {
				m.balance = value
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) append(line string) {
	m.history = append(m.history, line)
	if len(m.history) > maxHistoryLines {
		m.history = m.history[len(m.history)-maxHistoryLines:]
	}
}

func (m Model) dispatch(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	command := strings.ToLower(fields[0])
	args := fields[1:]

	m.append(promptStyle.Render("> " + line))
	logger.Info("Shell command: %s", line)

	switch command {
	case "exit", "quit", "q":
		m.quit = true
		return m, tea.Quit

	case "clear":
		m.history = nil
		return m, nil

	case "help", "?":
		m.appendHelp()
		return m, nil

	case "balance", "bal":
		m.state = stateBusy
		return m, m.balanceCmd()

	case "fund":
		target := 5.0
		if len(args) > 0 {
			parsed, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				m.append(errorStyle.Render(fmt.Sprintf("Invalid amount %q", args[0])))
				return m, nil
			}
			target = parsed
		}
		m.state = stateBusy
		return m, m.fundCmd(target)

	case "info", "status":
		m.appendInfo()
		return m, nil

	case "refresh", "reload":
		m.state = stateBusy
		m.session.InvalidateBalanceCache()
		return m, m.balanceCmd()

	case "free":
		m.state = stateBusy
		return m, m.getCmd(m.cfg.ServerURL + "/free")

	case "tier1", "tier2", "tier3", "protected", "premium", "enterprise", "basic":
		return m.dispatchTier(command)

	case "get":
		if len(args) == 0 {
			m.append(errorStyle.Render("Usage: get <tier>"))
			return m, nil
		}
		return m.dispatchTier(args[0])

	default:
		m.append(errorStyle.Render(fmt.Sprintf("Unknown command %q, try help", command)))
		return m, nil
	}
}

func (m Model) dispatchTier(name string) (tea.Model, tea.Cmd) {
	tier, err := payment.LookupTier(name)
	if err != nil {
		m.append(errorStyle.Render(err.Error()))
		return m, nil
	}
	m.state = stateBusy
	return m, m.payCmd(tier)
}

func (m *Model) appendHelp() {
	m.append("Commands:")
	m.append("  balance          show the current token balance")
	m.append("  fund [amount]    top the wallet up to the target amount")
	m.append("  info             show account and cache details")
	m.append("  refresh          drop the cache and refetch the balance")
	m.append("  free             fetch the free endpoint")
	m.append("  get <tier>       pay for a content tier (tier1..tier3)")
	m.append("  clear            clear the screen")
	m.append("  exit             leave the shell")
}

func (m *Model) appendInfo() {
	m.append(fmt.Sprintf("Account:  %s", m.name))
	m.append(fmt.Sprintf("Address:  %s", m.address))
	m.append(fmt.Sprintf("Network:  %s", m.cfg.Network))
	m.append(fmt.Sprintf("Server:   %s", m.cfg.ServerURL))
	if m.session.CacheValid() {
		m.append(fmt.Sprintf("Balance:  %.6f %s (cached)", m.balance, m.cfg.TokenSymbol))
	} else {
		m.append("Balance:  cache invalidated, run balance to refetch")
	}
}

func (m Model) balanceCmd() tea.Cmd {
	session := m.session
	symbol := m.cfg.TokenSymbol
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		value := session.GetBalance(ctx)
		return CommandOutput{
			Lines: []string{fmt.Sprintf("Balance: %.6f %s", value, symbol)},
		}
	}
}

func (m Model) fundCmd(target float64) tea.Cmd {
	session := m.session
	symbol := m.cfg.TokenSymbol
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		before := session.GetBalance(ctx)
		if _, err := session.Fund(ctx, target); err != nil {
			return CommandOutput{Err: err}
		}
		value := session.GetBalance(ctx)
		lines := []string{fmt.Sprintf("Balance: %.6f %s", value, symbol)}
		if before >= target {
			lines = append([]string{"Already funded, no faucet request needed"}, lines...)
		} else {
			lines = append([]string{"Faucet request sent"}, lines...)
		}
		return CommandOutput{Lines: lines}
	}
}

func (m Model) payCmd(tier payment.Tier) tea.Cmd {
	client := m.client
	url := m.cfg.ServerURL + tier.Path
	price := tier.Price
	symbol := m.cfg.TokenSymbol
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		if _, err := client.ValidateBalance(ctx, tier); err != nil {
			return CommandOutput{Err: err}
		}
		result, err := client.Get(ctx, url)
		if err != nil {
			return CommandOutput{Err: err}
		}
		return CommandOutput{Lines: describeResult(result, price, symbol)}
	}
}

func (m Model) getCmd(url string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		result, err := client.Get(ctx, url)
		if err != nil {
			return CommandOutput{Err: err}
		}
		return CommandOutput{Lines: describeResult(result, 0, "")}
	}
}

func describeResult(result *payment.Result, price float64, symbol string) []string {
	var lines []string
	if !result.Success {
		lines = append(lines, fmt.Sprintf("Request failed (%d): %s", result.StatusCode, result.Error))
		return lines
	}
	if result.Paid {
		lines = append(lines, fmt.Sprintf("Paid %.6f %s", price, symbol))
		if result.Settlement != nil && result.Settlement.Transaction != "" {
			lines = append(lines, fmt.Sprintf("Settlement tx: %s", result.Settlement.Transaction))
		}
	}
	lines = append(lines, renderData(result.Data)...)
	return lines
}

func renderData(data json.RawMessage) []string {
	var pretty map[string]interface{}
	if err := json.Unmarshal(data, &pretty); err != nil {
		return []string{string(data)}
	}
	formatted, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return []string{string(data)}
	}
	return strings.Split(string(formatted), "\n")
}

func describeError(err error) string {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return fmt.Sprintf("Invalid request: %v", err)
	case errs.KindSigningTimeout:
		return fmt.Sprintf("Signing timed out: %v", err)
	case errs.KindSigning:
		return fmt.Sprintf("Signing failed: %v", err)
	case errs.KindRateLimited:
		return fmt.Sprintf("Rate limited, try again shortly: %v", err)
	case errs.KindNetwork:
		return fmt.Sprintf("Network error: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func (m Model) View() string {
	if m.quit {
		return "Bye.\n"
	}

	var s strings.Builder

	s.WriteString(headerStyle.Render("💸 x402 Wallet Shell"))
	s.WriteString("\n\n")

	switch m.state {
	case stateConnecting:
		s.WriteString(fmt.Sprintf("%s Connecting to %s...\n\n", m.spinner.View(), m.cfg.BaseURL))
	case stateBusy:
		s.WriteString(accountStyle.Render(m.statusLine()))
		s.WriteString(fmt.Sprintf("\n\n%s Working...\n\n", m.spinner.View()))
	default:
		s.WriteString(accountStyle.Render(m.statusLine()))
		s.WriteString("\n\n")
	}

	if len(m.history) > 0 {
		visible := m.history
		if limit := m.height - 10; limit > 0 && len(visible) > limit {
			visible = visible[len(visible)-limit:]
		}
		box := historyStyle.Width(m.width - 2)
		s.WriteString(box.Render(strings.Join(visible, "\n")))
		s.WriteString("\n\n")
	}

	if m.state == stateReady {
		s.WriteString(m.input.View())
		s.WriteString("\n\n")
	}

	s.WriteString(footerStyle.Render("esc to quit | logs: x402-wallet_*.log"))

	return s.String()
}

func (m Model) statusLine() string {
	balance := "?"
	if m.session != nil {
		if value, ok := m.session.LastKnownBalance(); ok {
			balance = fmt.Sprintf("%.6f %s", value, m.cfg.TokenSymbol)
		}
	}
	return fmt.Sprintf("Account: %s | %s | Balance: %s", m.name, m.cfg.Network, balance)
}

// RunShell starts the interactive wallet shell. Logging is redirected to
// the log file for the duration so log lines do not tear the UI.
func RunShell(cfg *config.Config) error {
	if err := logger.InitFileOnly(); err != nil {
		return fmt.Errorf("failed to initialize file logging: %w", err)
	}
	defer logger.Close()

	program := tea.NewProgram(NewModel(cfg), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("shell error: %w", err)
	}
	return nil
}
