package dolphinbot

import (
	"github.com/bwmarrin/discordgo"
)

// memberHasRole reports whether the member holds the given role ID.
// A nil member (interaction outside a guild) never has a role.
func memberHasRole(member *discordgo.Member, roleID string) bool {
	if member == nil || roleID == "" {
		return false
	}
	for _, r := range member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// memberIsAdmin reports whether the member has the Administrator
// permission, based on the permissions Discord resolved for the
// interaction.
func memberIsAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	return member.Permissions&discordgo.PermissionAdministrator != 0
}
