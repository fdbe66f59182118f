package main

import (
	"context"
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/parcelview/parcelview-client/internal/identity"
	"github.com/parcelview/parcelview-client/internal/session"
)

// errCommandFailed marks errors already shown to the user, so Execute
// only sets the exit code.
var errCommandFailed = errors.New("command failed")

// renderState maps the session state to what the mobile app would show as
// a screen. This is the routing-gate side of the state machine.
func renderState(st session.State) {
	switch st.Status {
	case session.StatusLoading:
		pterm.Info.Println("Session loading")
	case session.StatusUnauthenticated:
		pterm.Info.Println("Not signed in. Run 'parcelview login' or 'parcelview register'.")
	case session.StatusPendingEmailVerification:
		pterm.Warning.Printfln("Email verification pending for %s. Run 'parcelview verify --code <code>'.", st.Email)
	case session.StatusPendingPinSetup:
		pterm.Warning.Printfln("Signed in as %s. Set a re-entry PIN with 'parcelview pin setup' or skip with 'parcelview pin skip'.", st.User.Email)
	case session.StatusPendingPinAuth:
		pterm.Warning.Printfln("Welcome back %s. Unlock with 'parcelview pin unlock --pin <pin>'.", st.User.Email)
	case session.StatusAuthenticated:
		if !st.User.HasPinSetup {
			pterm.Success.Printfln("Signed in as %s. Add a re-entry PIN anytime with 'parcelview pin setup'.", st.User.Email)
		} else {
			pterm.Success.Printfln("Signed in as %s", st.User.Email)
		}
	}
}

// renderError prints API lockout details when present and the error
// message otherwise.
func renderError(err error) {
	var apiErr *identity.APIError
	if errors.As(err, &apiErr) && apiErr.LockedUntil != nil {
		pterm.Error.Printfln("%s (locked until %s)", apiErr.Message, apiErr.LockedUntil.Local().Format("15:04:05"))
		return
	}
	pterm.Error.Println(err)
}

func newLoginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.SubmitCredentials(ctx, email, password); err != nil {
					renderError(err)
					return errCommandFailed
				}
				renderState(m.Current())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var req identity.RegisterRequest

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.RegisterAccount(ctx, req); err != nil {
					renderError(err)
					return errCommandFailed
				}
				renderState(m.Current())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "Account email")
	cmd.Flags().StringVar(&req.Password, "password", "", "Account password")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "Phone number")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Submit the emailed verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.SubmitVerificationCode(ctx, code); err != nil {
					renderError(err)
					return errCommandFailed
				}
				renderState(m.Current())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "6-digit verification code")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newResendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend",
		Short: "Request a fresh verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.ResendCode(ctx); err != nil {
					renderError(err)
					return errCommandFailed
				}
				pterm.Success.Println("Verification code sent")
				return nil
			})
		},
	}
}

func newPinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage the re-entry PIN",
	}

	var pin, confirm string
	setup := &cobra.Command{
		Use:   "setup",
		Short: "Configure a 4-6 digit re-entry PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.SubmitPINSetup(ctx, pin, confirm); err != nil {
					renderError(err)
					return errCommandFailed
				}
				renderState(m.Current())
				return nil
			})
		},
	}
	setup.Flags().StringVar(&pin, "pin", "", "New PIN")
	setup.Flags().StringVar(&confirm, "confirm", "", "New PIN, repeated")
	_ = setup.MarkFlagRequired("pin")
	_ = setup.MarkFlagRequired("confirm")

	var unlockPin string
	unlock := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock the session with the re-entry PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.SubmitPINAuth(ctx, unlockPin); err != nil {
					renderError(err)
					return errCommandFailed
				}
				renderState(m.Current())
				return nil
			})
		},
	}
	unlock.Flags().StringVar(&unlockPin, "pin", "", "Current PIN")
	_ = unlock.MarkFlagRequired("pin")

	skip := &cobra.Command{
		Use:   "skip",
		Short: "Continue without configuring a PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.SkipPIN(); err != nil {
					renderError(err)
					return errCommandFailed
				}
				renderState(m.Current())
				return nil
			})
		},
	}

	cmd.AddCommand(setup, unlock, skip)
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				renderState(m.Current())
				return nil
			})
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(ctx context.Context, m *session.Manager) error {
				if err := m.Logout(ctx); err != nil {
					renderError(err)
					return errCommandFailed
				}
				pterm.Success.Println("Signed out")
				return nil
			})
		},
	}
}
