package cli

import (
	"errors"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
)

// errQuit - пользователь вышел из меню.
var errQuit = errors.New("quit")

// menuOption - пункт меню: подпись и ключ действия.
type menuOption struct {
	Label string
	Value string
}

// prompter - ввод пользователя. В тестах подменяется сценарием.
type prompter interface {
	Select(title string, options []menuOption) (string, error)
	Spin(title string, action func() error) error
}

// huhPrompter - интерактивный ввод в терминале.
type huhPrompter struct{}

func (huhPrompter) Select(title string, options []menuOption) (string, error) {
	huhOptions := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		huhOptions = append(huhOptions, huh.NewOption(o.Label, o.Value))
	}

	var value string
	err := huh.NewSelect[string]().
		Title(title).
		Options(huhOptions...).
		Value(&value).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", errQuit
	}
	return value, err
}

func (huhPrompter) Spin(title string, action func() error) error {
	var actionErr error
	if err := spinner.New().Title(title).Action(func() { actionErr = action() }).Run(); err != nil {
		return err
	}
	return actionErr
}
