package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/gateway"
	"github.com/hideout-chat/hideout/globals"
	"github.com/hideout-chat/hideout/policy"
	"github.com/hideout-chat/hideout/types"
)

// A very simple CLI tool for the administration of hideout users,
// conversations and invite links.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	log.SetFlags(0)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	gw, err := gateway.NewGateway(cfg)
	if err != nil {
		panic(err)
	}
	defer gw.Close()

	// actingUser resolves --admin-user to a profile, for commands that are
	// role-gated.
	actingUser := func() *types.User {
		if cfg.AdminUser == "" {
			globals.AppLogger.Error("no admin user configured, set --admin-user")
			return nil
		}
		user := &types.User{Id: cfg.AdminUser}
		if err := gw.GetUser(user); err != nil {
			globals.AppLogger.Error("could not get admin user", "error", err)
			return nil
		}
		return user
	}

	printJSON := func(v interface{}) {
		out, err := json.Marshal(v)
		if err != nil {
			globals.AppLogger.Error("could not marshal output", "error", err)
			return
		}
		fmt.Println(string(out))
	}

	var cmdUsers = &cobra.Command{
		Use:   "users",
		Short: "Manage community users",
	}
	var cmdUsersList = &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			users, err := gw.GetUsers()
			if err != nil {
				globals.AppLogger.Error("could not get users", "error", err)
				return
			}
			printJSON(users)
		},
	}
	var cmdUsersShow = &cobra.Command{
		Use:   "show [user id]",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{Id: args[0]}
			if err := gw.GetUser(&user); err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	var cmdUsersAdd = &cobra.Command{
		Use:   "add [user definition]",
		Short: "Create or update a user",
		Long:  `add creates or updates a user from a JSON definition. If the definition is "-", it is read from STDIN. A missing nickname is generated, a missing id is assigned.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			user := types.User{}
			if err := json.NewDecoder(r).Decode(&user); err != nil {
				globals.AppLogger.Error("could not decode user", "error", err)
				return
			}
			if user.Email == "" {
				globals.AppLogger.Error("no email")
				return
			}
			if user.Id == "" {
				user.Id = uuid.NewString()
			}
			if user.Nickname == "" {
				user.Nickname = goname.New(goname.FantasyMap).FirstLast()
			}
			if user.Role == "" {
				user.Role = types.UserRoleMember
			}
			now := time.Now().UTC()
			if user.CreatedAt.IsZero() {
				user.CreatedAt = now
			}
			user.UpdatedAt = now
			if err := gw.StoreUser(user); err != nil {
				globals.AppLogger.Error("could not store user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	var cmdUsersSetRole = &cobra.Command{
		Use:   "set-role [user id] [role]",
		Short: "Change a user's community role",
		Long:  `set-role assigns a community role (owner, admin, moderator, member). Only an owner may grant owner or admin.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			actor := actingUser()
			if actor == nil {
				return
			}
			if !policy.CanGrantCommunityRole(actor.Role, args[1]) {
				globals.AppLogger.Error("role grant not allowed", "actor", actor.Id, "role", args[1])
				return
			}
			if err := gw.UpdateUserRole(args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not update role", "error", err)
				return
			}
		},
	}
	var cmdUsersDelete = &cobra.Command{
		Use:   "delete [user id]",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := gw.DeleteUser(&types.User{Id: args[0]}); err != nil {
				globals.AppLogger.Error("could not delete user", "error", err)
				return
			}
		},
	}

	var inviteConversation string
	var inviteExpiryDays int
	var inviteMaxUses int
	var cmdInvites = &cobra.Command{
		Use:   "invites",
		Short: "Manage invite links",
	}
	var cmdInvitesCreate = &cobra.Command{
		Use:   "create",
		Short: "Create an invite link",
		Long:  `create makes a new invite link. Without --conversation the invite admits into the community, with it into the given conversation. --expiry-days 0 means no expiry, --max-uses 0 unlimited uses.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			actor := actingUser()
			if actor == nil {
				return
			}
			if !policy.CanAdministerCommunity(actor.Role) {
				globals.AppLogger.Error("not allowed to create invites", "actor", actor.Id)
				return
			}
			inv := &types.InviteLink{
				Id:             uuid.NewString(),
				Code:           types.NewInviteCode(),
				ConversationId: inviteConversation,
				CreatedBy:      actor.Id,
				MaxUses:        inviteMaxUses,
				IsActive:       true,
				CreatedAt:      time.Now().UTC(),
			}
			if inviteExpiryDays > 0 {
				expiry := time.Now().UTC().AddDate(0, 0, inviteExpiryDays)
				inv.ExpiresAt = &expiry
			}
			if err := gw.StoreInvite(inv); err != nil {
				globals.AppLogger.Error("could not store invite", "error", err)
				return
			}
			printJSON(inv)
		},
	}
	var cmdInvitesList = &cobra.Command{
		Use:   "list",
		Short: "List invite links",
		Long:  `list shows the community invites, or the invites of one conversation with --conversation.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			invites, err := gw.GetInvites(inviteConversation)
			if err != nil {
				globals.AppLogger.Error("could not get invites", "error", err)
				return
			}
			printJSON(invites)
		},
	}
	var cmdInvitesActivate = &cobra.Command{
		Use:   "activate [code]",
		Short: "Reactivate an invite link",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := gw.SetInviteActive(args[0], true); err != nil {
				globals.AppLogger.Error("could not activate invite", "error", err)
				return
			}
		},
	}
	var cmdInvitesDeactivate = &cobra.Command{
		Use:   "deactivate [code]",
		Short: "Deactivate an invite link",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := gw.SetInviteActive(args[0], false); err != nil {
				globals.AppLogger.Error("could not deactivate invite", "error", err)
				return
			}
		},
	}

	var convDescription string
	var cmdConversations = &cobra.Command{
		Use:   "conversations",
		Short: "Manage conversations",
	}
	var cmdConversationsList = &cobra.Command{
		Use:   "list",
		Short: "List all conversations",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			convs, err := gw.GetConversations()
			if err != nil {
				globals.AppLogger.Error("could not get conversations", "error", err)
				return
			}
			printJSON(convs)
		},
	}
	var cmdConversationsShow = &cobra.Command{
		Use:   "show [conversation id]",
		Short: "Show one conversation with its members",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conv := types.Conversation{Id: args[0]}
			if err := gw.GetConversation(&conv); err != nil {
				globals.AppLogger.Error("could not get conversation", "error", err)
				return
			}
			members, err := gw.GetMembers([]string{conv.Id})
			if err != nil {
				globals.AppLogger.Error("could not get members", "error", err)
				return
			}
			printJSON(types.ConversationDetails{Conversation: conv, Members: members})
		},
	}
	var cmdConversationsCreateGroup = &cobra.Command{
		Use:   "create-group [type] [name] [member id]...",
		Short: "Create a group or channel",
		Long:  `create-group creates a conversation of type "group" or "channel" with the given name. The acting admin user becomes the owner, the listed user ids become members.`,
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			actor := actingUser()
			if actor == nil {
				return
			}
			convId, err := gw.CreateGroupConversation(args[0], args[1], convDescription, actor.Id, args[2:])
			if err != nil {
				globals.AppLogger.Error("could not create conversation", "error", err)
				return
			}
			printJSON(map[string]string{"conversation_id": convId})
		},
	}

	var cmdDM = &cobra.Command{
		Use:   "dm [user id] [other user id]",
		Short: "Get or create the direct conversation of a user pair",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			convId, err := gw.GetOrCreateDM(args[0], args[1])
			if err != nil {
				globals.AppLogger.Error("could not get or create dm", "error", err)
				return
			}
			printJSON(map[string]string{"conversation_id": convId})
		},
	}

	cmdInvitesCreate.Flags().StringVar(&inviteConversation, "conversation", "", "conversation id the invite admits into (empty: community)")
	cmdInvitesCreate.Flags().IntVar(&inviteExpiryDays, "expiry-days", cfg.InviteConfig.DefaultExpiryDays, "days until the invite expires (0: never)")
	cmdInvitesCreate.Flags().IntVar(&inviteMaxUses, "max-uses", cfg.InviteConfig.DefaultMaxUses, "maximum redemptions (0: unlimited)")
	cmdInvitesList.Flags().StringVar(&inviteConversation, "conversation", "", "only invites of this conversation")
	cmdConversationsCreateGroup.Flags().StringVar(&convDescription, "description", "", "conversation description")

	var rootCmd = &cobra.Command{Use: "hideout-admin"}
	rootCmd.AddCommand(cmdUsers, cmdInvites, cmdConversations, cmdDM)
	cmdUsers.AddCommand(cmdUsersList, cmdUsersShow, cmdUsersAdd, cmdUsersSetRole, cmdUsersDelete)
	cmdInvites.AddCommand(cmdInvitesCreate, cmdInvitesList, cmdInvitesActivate, cmdInvitesDeactivate)
	cmdConversations.AddCommand(cmdConversationsList, cmdConversationsShow, cmdConversationsCreateGroup)
	rootCmd.Execute()
}
