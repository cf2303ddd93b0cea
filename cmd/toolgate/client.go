package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"toolgate/internal/audit"
	"toolgate/internal/config"
	"toolgate/internal/identity"
	"toolgate/internal/permission"
	"toolgate/internal/server"
)

var (
	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Manage client credentials and permission grants",
		Long: `Manage the credential registry and the permission policy file.

These commands edit the data directory directly; grant and revoke-perm
changes take effect the next time the server loads the policy file.`,
	}

	clientCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Register a new client",
		RunE:  runClientCreate,
	}

	clientListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		RunE:  runClientList,
	}

	clientEnableCmd = &cobra.Command{
		Use:   "enable <client-id>",
		Short: "Re-enable a disabled client",
		Args:  cobra.ExactArgs(1),
		RunE:  runClientEnable,
	}

	clientDisableCmd = &cobra.Command{
		Use:   "disable <client-id>",
		Short: "Disable a client without deleting its record",
		Args:  cobra.ExactArgs(1),
		RunE:  runClientDisable,
	}

	clientDeleteCmd = &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Delete a client's credential record",
		Args:  cobra.ExactArgs(1),
		RunE:  runClientDelete,
	}

	clientGrantCmd = &cobra.Command{
		Use:   "grant <client-id> <type> [resource]",
		Short: "Add a permission grant to the policy file",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runClientGrant,
	}

	clientRevokePermCmd = &cobra.Command{
		Use:   "revoke-perm <client-id> <type>",
		Short: "Remove every grant of a type from the policy file",
		Args:  cobra.ExactArgs(2),
		RunE:  runClientRevokePerm,
	}

	clientDataDir  string
	clientUsername string
	clientEmail    string
	clientRoles    []string
	clientPolicy   string
)

// GetClientCommand returns the client command for the root command.
func GetClientCommand() *cobra.Command { return clientCmd }

func init() {
	clientCmd.AddCommand(
		clientCreateCmd,
		clientListCmd,
		clientEnableCmd,
		clientDisableCmd,
		clientDeleteCmd,
		clientGrantCmd,
		clientRevokePermCmd,
	)

	clientCmd.PersistentFlags().StringVarP(&clientDataDir, "data-dir", "d", "", "Data directory path")

	clientCreateCmd.Flags().StringVarP(&clientUsername, "username", "u", "", "Username (required)")
	clientCreateCmd.Flags().StringVar(&clientEmail, "email", "", "Contact email")
	clientCreateCmd.Flags().StringSliceVar(&clientRoles, "role", nil, "Role to assign (repeatable; default: user)")
	if err := clientCreateCmd.MarkFlagRequired("username"); err != nil {
		panic(fmt.Sprintf("failed to mark username flag as required: %v", err))
	}

	clientGrantCmd.Flags().StringVar(&clientPolicy, "policy", "", "Permission policy file (required)")
	clientRevokePermCmd.Flags().StringVar(&clientPolicy, "policy", "", "Permission policy file (required)")
	for _, cmd := range []*cobra.Command{clientGrantCmd, clientRevokePermCmd} {
		if err := cmd.MarkFlagRequired("policy"); err != nil {
			panic(fmt.Sprintf("failed to mark policy flag as required: %v", err))
		}
	}

	clientGrantCmd.Example = `  # Allow a client to run the date command
  toolgate client grant 5f3a... system-command date --policy policy.yaml

  # Allow writes anywhere in the client's own jail
  toolgate client grant 5f3a... file-write '*' --policy policy.yaml`
}

// dataDir resolves the directory the client commands operate on.
func dataDir() string {
	if clientDataDir != "" {
		return clientDataDir
	}
	return config.DefaultConfig().DataDir
}

func clientStores() (*identity.Registry, *audit.Log) {
	dir := dataDir()
	reg := identity.NewRegistry(filepath.Join(dir, server.ClientsFileName), identity.DefaultBcryptCost)
	log := audit.NewLog(filepath.Join(dir, server.AuditFileName), zap.NewNop().Sugar())
	return reg, log
}

// promptPassword reads the password twice from a terminal without echo,
// or a single line from a pipe.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprint(os.Stderr, "Confirm password: ")
		confirm, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if string(password) != string(confirm) {
			return "", errors.New("passwords do not match")
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runClientCreate(_ *cobra.Command, _ []string) error {
	password, err := promptPassword()
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	reg, auditLog := clientStores()
	rec, err := reg.Create(clientUsername, password, clientEmail, clientRoles)
	if err != nil {
		return err
	}
	if err := auditLog.ClientCreated(rec.ClientID, rec.Username); err != nil {
		return err
	}

	fmt.Printf("Client created\n  id:       %s\n  username: %s\n  roles:    %s\n",
		rec.ClientID, rec.Username, strings.Join(rec.Roles, ", "))
	return nil
}

func runClientList(_ *cobra.Command, _ []string) error {
	reg, _ := clientStores()
	records, err := reg.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No clients registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT ID\tUSERNAME\tROLES\tENABLED\tLAST LOGIN")
	for _, rec := range records {
		lastLogin := "never"
		if rec.LastLogin != nil {
			lastLogin = rec.LastLogin.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			rec.ClientID, rec.Username, strings.Join(rec.Roles, ","), rec.Enabled, lastLogin)
	}
	return w.Flush()
}

func runClientEnable(_ *cobra.Command, args []string) error {
	reg, _ := clientStores()
	rec, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	if err := reg.SetEnabled(rec.ClientID, true); err != nil {
		return err
	}
	fmt.Printf("Client %s enabled\n", rec.Username)
	return nil
}

func runClientDisable(_ *cobra.Command, args []string) error {
	reg, auditLog := clientStores()
	rec, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	if err := reg.SetEnabled(rec.ClientID, false); err != nil {
		return err
	}
	if err := auditLog.ClientDisabled(rec.ClientID, rec.Username); err != nil {
		return err
	}
	fmt.Printf("Client %s disabled\n", rec.Username)
	return nil
}

func runClientDelete(_ *cobra.Command, args []string) error {
	reg, auditLog := clientStores()
	rec, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	if err := reg.Delete(rec.ClientID); err != nil {
		return err
	}
	if err := auditLog.ClientDeleted(rec.ClientID, rec.Username); err != nil {
		return err
	}
	// The jail and its files stay behind for forensics; clear them by
	// hand if they must go.
	fmt.Printf("Client %s deleted\n", rec.Username)
	return nil
}

func runClientGrant(_ *cobra.Command, args []string) error {
	clientID := args[0]
	permType := permission.Type(args[1])
	if !permission.ValidType(permType) {
		return fmt.Errorf("unknown permission type %q", args[1])
	}
	grant := permission.Permission{Type: permType}
	if len(args) == 3 {
		grant.Resource = args[2]
	}

	policy, err := loadOrCreatePolicy(clientPolicy)
	if err != nil {
		return err
	}

	idx := -1
	for i := range policy.Clients {
		if policy.Clients[i].ClientID == clientID {
			idx = i
			break
		}
	}
	if idx < 0 {
		policy.Clients = append(policy.Clients, permission.PolicyEntry{ClientID: clientID})
		idx = len(policy.Clients) - 1
	}
	for _, existing := range policy.Clients[idx].Permissions {
		if existing.Equal(grant) {
			fmt.Printf("Grant %s already present for %s\n", grant.String(), clientID)
			return nil
		}
	}
	policy.Clients[idx].Permissions = append(policy.Clients[idx].Permissions, grant)

	if err := permission.SavePolicy(clientPolicy, policy); err != nil {
		return err
	}
	fmt.Printf("Granted %s to %s\n", grant.String(), clientID)
	return nil
}

func runClientRevokePerm(_ *cobra.Command, args []string) error {
	clientID := args[0]
	permType := permission.Type(args[1])
	if !permission.ValidType(permType) {
		return fmt.Errorf("unknown permission type %q", args[1])
	}

	policy, err := permission.LoadPolicy(clientPolicy)
	if err != nil {
		return err
	}

	removed := 0
	for i := range policy.Clients {
		if policy.Clients[i].ClientID != clientID {
			continue
		}
		kept := policy.Clients[i].Permissions[:0]
		for _, p := range policy.Clients[i].Permissions {
			if p.Type == permType {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		policy.Clients[i].Permissions = kept
	}
	if removed == 0 {
		return fmt.Errorf("no %s grants for client %s in %s", permType, clientID, clientPolicy)
	}

	if err := permission.SavePolicy(clientPolicy, policy); err != nil {
		return err
	}
	fmt.Printf("Revoked %d %s grant(s) from %s\n", removed, permType, clientID)
	return nil
}

func loadOrCreatePolicy(path string) (*permission.Policy, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return &permission.Policy{}, nil
	}
	return permission.LoadPolicy(path)
}
