package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/highland/internal/catalog"
	"github.com/tyemirov/highland/internal/dispatch"
	"github.com/tyemirov/highland/internal/session"
	"go.uber.org/zap"
)

var errInvalidPayload = errors.New("cli.invalid_payload")

func newLoginCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the identity provider and open a backend session",
		Args:  cobra.NoArgs,
		RunE:  runLogin,
	}
	command.Flags().String("username", "", "Account username")
	command.Flags().String("password", "", "Account password; read from stdin when empty")
	_ = viper.BindPFlag("password", command.Flags().Lookup("password"))
	return command
}

func runLogin(command *cobra.Command, arguments []string) error {
	return withRuntime(command, func(ctx context.Context, runtime *clientRuntime) error {
		username, _ := command.Flags().GetString("username")
		if strings.TrimSpace(username) == "" {
			return errors.New("cli.login: username must be provided")
		}
		password := viper.GetString("password")
		if password == "" {
			line, readErr := bufio.NewReader(command.InOrStdin()).ReadString('\n')
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				return fmt.Errorf("cli.login.read_password: %w", readErr)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		described, loginErr := runtime.sessions.Login(ctx, username, password)
		if loginErr != nil {
			return loginErr
		}
		resolved, status, initErr := initialize(ctx, runtime)
		if initErr != nil {
			return initErr
		}
		return writeJSON(command.OutOrStdout(), map[string]any{
			"user_id":     described.UserID,
			"username":    resolved.Username,
			"user_email":  resolved.Email,
			"roles":       described.Roles,
			"identity_id": resolved.IdentityID,
			"storage":     status.String(),
		})
	})
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the identity provider and end the backend session",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return withRuntime(command, func(ctx context.Context, runtime *clientRuntime) error {
				logoutErr := runtime.sessions.Logout(ctx)
				return errors.Join(logoutErr, runtime.clearBackendSession(ctx))
			})
		},
	}
}

func newWhoAmICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return withRuntime(command, func(ctx context.Context, runtime *clientRuntime) error {
				resolved, status, err := initialize(ctx, runtime)
				if err != nil {
					return err
				}
				return writeJSON(command.OutOrStdout(), map[string]any{
					"username":    resolved.Username,
					"subject":     resolved.Subject,
					"user_email":  resolved.Email,
					"identity_id": resolved.IdentityID,
					"storage":     status.String(),
				})
			})
		},
	}
}

// initialize resolves the identity, tolerating storage being unavailable.
func initialize(ctx context.Context, runtime *clientRuntime) (session.Identity, session.InitStatus, error) {
	resolved, err := runtime.sessions.Init(ctx)
	switch {
	case err == nil:
		return resolved, session.InitReady, nil
	case errors.Is(err, session.ErrStorageUnavailable):
		return resolved, session.InitStorageUnavailable, nil
	default:
		return session.Identity{}, session.InitSessionFailed, err
	}
}

func newRequestCommand(method string) *cobra.Command {
	use := strings.ToLower(method) + " PATH"
	positional := cobra.ExactArgs(1)
	if method != http.MethodGet {
		use += " [JSON|@FILE|-]"
		positional = cobra.RangeArgs(1, 2)
	}
	command := &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Send an authenticated %s to the backend", method),
		Args:  positional,
		RunE: func(command *cobra.Command, arguments []string) error {
			return withRuntime(command, func(ctx context.Context, runtime *clientRuntime) error {
				payload, payloadErr := requestPayload(command, arguments)
				if payloadErr != nil {
					return payloadErr
				}
				response, sendErr := send(ctx, runtime.dispatcher, method, arguments[0], payload)
				if sendErr != nil {
					var statusErr *dispatch.StatusError
					if errors.As(sendErr, &statusErr) && len(statusErr.Body) > 0 {
						_, _ = fmt.Fprintln(command.ErrOrStderr(), string(statusErr.Body))
					}
					return sendErr
				}
				_, writeErr := fmt.Fprintln(command.OutOrStdout(), string(response.Body))
				return writeErr
			})
		},
	}
	if method == http.MethodDelete {
		command.Flags().Int64Slice("ids", nil, "Ids to delete, sent as {\"ids\":[...]}")
	}
	return command
}

func send(ctx context.Context, dispatcher *dispatch.Dispatcher, method string, path string, payload any) (*dispatch.Response, error) {
	switch method {
	case http.MethodPost:
		return dispatcher.Post(ctx, path, payload)
	case http.MethodPut:
		return dispatcher.Put(ctx, path, payload)
	case http.MethodDelete:
		return dispatcher.Delete(ctx, path, payload)
	default:
		return dispatcher.Get(ctx, path)
	}
}

func requestPayload(command *cobra.Command, arguments []string) (any, error) {
	if idsFlag := command.Flags().Lookup("ids"); idsFlag != nil && idsFlag.Changed {
		ids, _ := command.Flags().GetInt64Slice("ids")
		return dispatch.IDList{IDs: ids}, nil
	}
	if len(arguments) < 2 {
		if command.Flags().Lookup("ids") != nil {
			return nil, fmt.Errorf("cli.delete: %w", catalog.ErrNoIDs)
		}
		return nil, nil
	}
	raw, readErr := readArgument(command.InOrStdin(), arguments[1])
	if readErr != nil {
		return nil, readErr
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: body is not valid JSON", errInvalidPayload)
	}
	return json.RawMessage(raw), nil
}

func readArgument(stdin io.Reader, argument string) ([]byte, error) {
	switch {
	case argument == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(argument, "@"):
		return os.ReadFile(strings.TrimPrefix(argument, "@"))
	default:
		return []byte(argument), nil
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "list shows|episodes SHOW_ID|audio|images",
		Short:     "List catalog entries as validated JSON",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"shows", "episodes", "audio", "images"},
		RunE: func(command *cobra.Command, arguments []string) error {
			return withRuntime(command, func(ctx context.Context, runtime *clientRuntime) error {
				entries, listErr := listCatalog(ctx, runtime.catalog, arguments)
				if listErr != nil {
					return listErr
				}
				return writeJSON(command.OutOrStdout(), entries)
			})
		},
	}
}

func listCatalog(ctx context.Context, client *catalog.Client, arguments []string) (any, error) {
	switch arguments[0] {
	case "shows":
		return client.ListShows(ctx)
	case "episodes":
		if len(arguments) < 2 {
			return nil, errors.New("cli.list: episodes requires SHOW_ID")
		}
		showID, parseErr := strconv.ParseInt(arguments[1], 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("cli.list: invalid SHOW_ID %q", arguments[1])
		}
		return client.ListEpisodes(ctx, showID)
	case "audio":
		return client.ListAudio(ctx)
	case "images":
		return client.ListImages(ctx)
	default:
		return nil, fmt.Errorf("cli.list: unknown collection %q", arguments[0])
	}
}

func newUploadCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a media file and register it with the backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpload,
	}
	command.Flags().String("kind", string(catalog.MediaImage), "Media kind: image or audio")
	command.Flags().String("content_type", "", "Content type; derived from the file extension when empty")
	return command
}

func runUpload(command *cobra.Command, arguments []string) error {
	rawKind, _ := command.Flags().GetString("kind")
	kind, kindErr := catalog.ParseMediaKind(rawKind)
	if kindErr != nil {
		return kindErr
	}
	contentType, _ := command.Flags().GetString("content_type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(arguments[0]))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return withRuntime(command, func(ctx context.Context, runtime *clientRuntime) error {
		file, openErr := os.Open(arguments[0])
		if openErr != nil {
			return openErr
		}
		defer file.Close()

		if _, status, initErr := initialize(ctx, runtime); initErr != nil {
			return initErr
		} else if status != session.InitReady {
			runtime.logger.Warn("uploading without storage identity",
				zap.String("code", "cli.storage_unavailable"))
		}
		upload, uploadErr := runtime.catalog.UploadMedia(ctx, kind, filepath.Base(arguments[0]), file, contentType)
		if uploadErr != nil {
			return uploadErr
		}
		return writeJSON(command.OutOrStdout(), upload)
	})
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
