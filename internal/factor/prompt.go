package factor

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/TheMichaelB/chaosvault/internal/models"
)

// PromptProvider reads a passphrase from the terminal without echo.
type PromptProvider struct {
	In      *os.File
	Out     io.Writer
	Prompt  string
	Confirm bool // ask twice, for new vaults
}

// NewPromptProvider prompts on stdin and writes to stderr.
func NewPromptProvider(confirm bool) *PromptProvider {
	return &PromptProvider{
		In:      os.Stdin,
		Out:     os.Stderr,
		Prompt:  "Passphrase: ",
		Confirm: confirm,
	}
}

func (p *PromptProvider) Kind() models.FactorKind { return models.FactorPassphrase }

func (p *PromptProvider) Factor(ctx context.Context) (models.SecondaryFactor, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return models.SecondaryFactor{}, fmt.Errorf("%w: stdin is not a terminal", ErrFactorUnavailable)
	}

	first, err := p.read(fd, p.Prompt)
	if err != nil {
		return models.SecondaryFactor{}, err
	}
	defer clear(first)

	if p.Confirm {
		second, err := p.read(fd, "Confirm passphrase: ")
		if err != nil {
			return models.SecondaryFactor{}, err
		}
		defer clear(second)

		if subtle.ConstantTimeCompare(first, second) != 1 {
			return models.SecondaryFactor{}, fmt.Errorf("passphrases do not match")
		}
	}

	if len(first) == 0 {
		return models.SecondaryFactor{}, fmt.Errorf("%w: empty passphrase", ErrFactorUnavailable)
	}

	return models.NewPassphrase(string(first)), nil
}

func (p *PromptProvider) read(fd int, prompt string) ([]byte, error) {
	fmt.Fprint(p.Out, prompt)
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return value, nil
}
