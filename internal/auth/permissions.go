package auth

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// PermissionCode is the authorization key of a permission. Values are persisted and
// embedded in tokens, so existing values must never change.
type PermissionCode int

// User management.
const (
	PermGetUser              PermissionCode = 0
	PermRegisterUser         PermissionCode = 1
	PermGetRoles             PermissionCode = 2
	PermGetPermissionsOfUser PermissionCode = 3
	PermResetPassword        PermissionCode = 4
	PermSetRoleToUser        PermissionCode = 5
	PermDeleteUser           PermissionCode = 6
	PermUpdateUser           PermissionCode = 7
	PermGetUsersByFilter     PermissionCode = 8
	PermGetUsers             PermissionCode = 9
	PermGetPermissions       PermissionCode = 10
	PermGetUserByEmail       PermissionCode = 11
	PermSetAccuracyToUser    PermissionCode = 12
	PermSearchUser           PermissionCode = 13
	PermSetUserPermissions   PermissionCode = 46
	PermAddRole              PermissionCode = 47
	PermGetUserLoginLogs     PermissionCode = 48
)

// Content management.
const (
	PermGetAllPosts        PermissionCode = 15
	PermRegisterPosts      PermissionCode = 16
	PermSearchPost         PermissionCode = 17
	PermGetPostByTitle     PermissionCode = 18
	PermGetAllPostTypes    PermissionCode = 19
	PermCreatePost         PermissionCode = 20
	PermUpdatePost         PermissionCode = 21
	PermDeletePost         PermissionCode = 22
	PermGetPostsByCategory PermissionCode = 23
	PermGetAllCategories   PermissionCode = 24
	PermGetAllTags         PermissionCode = 25
	PermGetAllPostStatus   PermissionCode = 26
	PermUpdateCategories   PermissionCode = 27
)

// Innovations.
const (
	PermSetIdeaSubmissionAccuracy PermissionCode = 14
	PermGetAllInnovations         PermissionCode = 29
	PermCreateInnovation          PermissionCode = 30
	PermUpdateInnovation          PermissionCode = 31
	PermDeleteInnovation          PermissionCode = 32
)

// Dynamic pages.
const (
	PermGetAllDynamicPages PermissionCode = 33
	PermGetDynamicPage     PermissionCode = 34
	PermCreateDynamicPage  PermissionCode = 35
	PermUpdateDynamicPage  PermissionCode = 36
	PermDeleteDynamicPage  PermissionCode = 37
	PermSearchDynamicPages PermissionCode = 38
)

// Menus.
const (
	PermGetAllMenuItems   PermissionCode = 39
	PermGetMenuItem       PermissionCode = 40
	PermGetRootMenuItems  PermissionCode = 41
	PermGetChildMenuItems PermissionCode = 42
	PermCreateMenuItem    PermissionCode = 43
	PermUpdateMenuItem    PermissionCode = 44
	PermDeleteMenuItem    PermissionCode = 45
)

// Contact and support.
const (
	PermGetAllAdminTickets PermissionCode = 49
	PermGetUserTickets     PermissionCode = 50
	PermGetAllContactUs    PermissionCode = 51
	PermCreateContactUs    PermissionCode = 52
	PermUpdateContactUs    PermissionCode = 53
	PermDeleteContactUs    PermissionCode = 54
	PermSearchContactUs    PermissionCode = 55
)

// Menu visibility.
const (
	PermViewCompleteProfileMenu PermissionCode = 2001
	PermViewUserManageMenu      PermissionCode = 2002
	PermViewIdeaSubmissionsMenu PermissionCode = 2003
	PermViewMenuManageMenu      PermissionCode = 2004
	PermViewDynamicPagesMenu    PermissionCode = 2005
	PermViewBlogManageMenu      PermissionCode = 2006
	PermViewInnovationsMenu     PermissionCode = 2007
	PermViewContactUsMenu       PermissionCode = 2008
	PermViewTicketGroupsMenu    PermissionCode = 2009
	PermViewSupportMenu         PermissionCode = 2010
	PermViewUserSupportMenu     PermissionCode = 2011
)

// Ticket buttons.
const (
	PermCreateTicketGroupButton  PermissionCode = 4001
	PermEditTicketGroupButton    PermissionCode = 4002
	PermDeleteTicketGroupButton  PermissionCode = 4003
	PermSendAdminMessageButton   PermissionCode = 4101
	PermCloseTicketButton        PermissionCode = 4102
	PermDownloadAttachmentButton PermissionCode = 4103
	PermGetUserPermissions       PermissionCode = 4104
)

// CatalogEntry describes one permission of the static catalog.
type CatalogEntry struct {
	Value       PermissionCode
	Name        string
	Code        string
	Description string
}

var catalog = []CatalogEntry{
	{PermGetUser, "GetUser", "USR_GET", "View a single user"},
	{PermRegisterUser, "RegisterUser", "USR_REGISTER", "Register users"},
	{PermGetRoles, "GetRoles", "ROLE_LIST", "List user groups"},
	{PermGetPermissionsOfUser, "GetPermissionsOfUser", "USR_PERMS", "View the permissions of a user"},
	{PermResetPassword, "ResetPassword", "USR_RESET_PWD", "Reset a user's password"},
	{PermSetRoleToUser, "SetRoleToUser", "USR_SET_ROLE", "Assign a group to a user"},
	{PermDeleteUser, "DeleteUser", "USR_DELETE", "Deactivate users"},
	{PermUpdateUser, "UpdateUser", "USR_UPDATE", "Update users"},
	{PermGetUsersByFilter, "GetUsersByFilter", "USR_FILTER", "Filter users"},
	{PermGetUsers, "GetUsers", "USR_LIST", "List users"},
	{PermGetPermissions, "GetPermissions", "PERM_LIST", "List permissions"},
	{PermGetUserByEmail, "GetUserByEmail", "USR_BY_EMAIL", "Find a user by email"},
	{PermSetAccuracyToUser, "SetAccuracyToUser", "USR_ACCURACY", "Set user accuracy"},
	{PermSearchUser, "SearchUser", "USR_SEARCH", "Search users"},
	{PermSetIdeaSubmissionAccuracy, "SetIdeaSubmissionAccuracy", "IDEA_ACCURACY", "Set idea submission accuracy"},
	{PermGetAllPosts, "GetAllPosts", "POST_LIST", "List posts"},
	{PermRegisterPosts, "RegisterPosts", "POST_REGISTER", "Register posts"},
	{PermSearchPost, "SearchPost", "POST_SEARCH", "Search posts"},
	{PermGetPostByTitle, "GetPostByTitle", "POST_BY_TITLE", "Find a post by title"},
	{PermGetAllPostTypes, "GetAllPostTypes", "POST_TYPES", "List post types"},
	{PermCreatePost, "CreatePost", "POST_CREATE", "Create posts"},
	{PermUpdatePost, "UpdatePost", "POST_UPDATE", "Update posts"},
	{PermDeletePost, "DeletePost", "POST_DELETE", "Delete posts"},
	{PermGetPostsByCategory, "GetPostsByCategory", "POST_BY_CATEGORY", "List posts by category"},
	{PermGetAllCategories, "GetAllCategories", "CATEGORY_LIST", "List categories"},
	{PermGetAllTags, "GetAllTags", "TAG_LIST", "List tags"},
	{PermGetAllPostStatus, "GetAllPostStatus", "POST_STATUS", "List post statuses"},
	{PermUpdateCategories, "UpdateCategories", "CATEGORY_UPDATE", "Update categories"},
	{PermGetAllInnovations, "GetAllInnovations", "INNOVATION_LIST", "List innovations"},
	{PermCreateInnovation, "CreateInnovation", "INNOVATION_CREATE", "Create innovations"},
	{PermUpdateInnovation, "UpdateInnovation", "INNOVATION_UPDATE", "Update innovations"},
	{PermDeleteInnovation, "DeleteInnovation", "INNOVATION_DELETE", "Delete innovations"},
	{PermGetAllDynamicPages, "GetAllDynamicPages", "PAGE_LIST", "List dynamic pages"},
	{PermGetDynamicPage, "GetDynamicPage", "PAGE_GET", "View a dynamic page"},
	{PermCreateDynamicPage, "CreateDynamicPage", "PAGE_CREATE", "Create dynamic pages"},
	{PermUpdateDynamicPage, "UpdateDynamicPage", "PAGE_UPDATE", "Update dynamic pages"},
	{PermDeleteDynamicPage, "DeleteDynamicPage", "PAGE_DELETE", "Delete dynamic pages"},
	{PermSearchDynamicPages, "SearchDynamicPages", "PAGE_SEARCH", "Search dynamic pages"},
	{PermGetAllMenuItems, "GetAllMenuItems", "MENU_LIST", "List menu items"},
	{PermGetMenuItem, "GetMenuItem", "MENU_GET", "View a menu item"},
	{PermGetRootMenuItems, "GetRootMenuItems", "MENU_ROOTS", "List root menu items"},
	{PermGetChildMenuItems, "GetChildMenuItems", "MENU_CHILDREN", "List child menu items"},
	{PermCreateMenuItem, "CreateMenuItem", "MENU_CREATE", "Create menu items"},
	{PermUpdateMenuItem, "UpdateMenuItem", "MENU_UPDATE", "Update menu items"},
	{PermDeleteMenuItem, "DeleteMenuItem", "MENU_DELETE", "Delete menu items"},
	{PermSetUserPermissions, "SetUserPermissions", "GROUP_SET_PERMS", "Change group permissions"},
	{PermAddRole, "AddRole", "ROLE_MANAGE", "Create, update and deactivate groups"},
	{PermGetUserLoginLogs, "GetUserLoginLogs", "USR_LOGIN_LOGS", "View user login history"},
	{PermGetAllAdminTickets, "GetAllAdminTickets", "TICKET_ADMIN_LIST", "List all tickets"},
	{PermGetUserTickets, "GetUserTickets", "TICKET_USER_LIST", "List own tickets"},
	{PermGetAllContactUs, "GetAllContactUs", "CONTACT_LIST", "List contact requests"},
	{PermCreateContactUs, "CreateContactUs", "CONTACT_CREATE", "Create contact requests"},
	{PermUpdateContactUs, "UpdateContactUs", "CONTACT_UPDATE", "Update contact requests"},
	{PermDeleteContactUs, "DeleteContactUs", "CONTACT_DELETE", "Delete contact requests"},
	{PermSearchContactUs, "SearchContactUs", "CONTACT_SEARCH", "Search contact requests"},
	{PermViewCompleteProfileMenu, "ViewCompleteProfileMenu", "MENU_VIEW_PROFILE", "Show the complete-profile menu"},
	{PermViewUserManageMenu, "ViewUserManageMenu", "MENU_VIEW_USERS", "Show the user management menu"},
	{PermViewIdeaSubmissionsMenu, "ViewIdeaSubmissionsMenu", "MENU_VIEW_IDEAS", "Show the idea submissions menu"},
	{PermViewMenuManageMenu, "ViewMenuManageMenu", "MENU_VIEW_MENUS", "Show the menu management menu"},
	{PermViewDynamicPagesMenu, "ViewDynamicPagesMenu", "MENU_VIEW_PAGES", "Show the dynamic pages menu"},
	{PermViewBlogManageMenu, "ViewBlogManageMenu", "MENU_VIEW_BLOG", "Show the blog management menu"},
	{PermViewInnovationsMenu, "ViewInnovationsMenu", "MENU_VIEW_INNOVATIONS", "Show the innovations menu"},
	{PermViewContactUsMenu, "ViewContactUsMenu", "MENU_VIEW_CONTACT", "Show the contact-us menu"},
	{PermViewTicketGroupsMenu, "ViewTicketGroupsMenu", "MENU_VIEW_TICKET_GROUPS", "Show the ticket groups menu"},
	{PermViewSupportMenu, "ViewSupportMenu", "MENU_VIEW_SUPPORT", "Show the support menu"},
	{PermViewUserSupportMenu, "ViewUserSupportMenu", "MENU_VIEW_USER_SUPPORT", "Show the user support menu"},
	{PermCreateTicketGroupButton, "CreateTicketGroupButton", "BTN_TICKET_GROUP_CREATE", "Create ticket groups"},
	{PermEditTicketGroupButton, "EditTicketGroupButton", "BTN_TICKET_GROUP_EDIT", "Edit ticket groups"},
	{PermDeleteTicketGroupButton, "DeleteTicketGroupButton", "BTN_TICKET_GROUP_DELETE", "Delete ticket groups"},
	{PermSendAdminMessageButton, "SendAdminMessageButton", "BTN_ADMIN_MESSAGE", "Send admin ticket messages"},
	{PermCloseTicketButton, "CloseTicketButton", "BTN_TICKET_CLOSE", "Close tickets"},
	{PermDownloadAttachmentButton, "DownloadAttachmentButton", "BTN_ATTACHMENT_DOWNLOAD", "Download ticket attachments"},
	{PermGetUserPermissions, "GetUserPermissions", "USR_OWN_PERMS", "View own permissions"},
}

var (
	catalogByValue = make(map[PermissionCode]CatalogEntry, len(catalog))
	catalogByName  = make(map[string]CatalogEntry, len(catalog))
)

func init() {
	slices.SortFunc(catalog, func(a, b CatalogEntry) int { return int(a.Value - b.Value) })
	for _, e := range catalog {
		catalogByValue[e.Value] = e
		catalogByName[strings.ToLower(e.Name)] = e
	}
}

// Catalog returns every known permission ordered by value.
func Catalog() []CatalogEntry {
	return slices.Clone(catalog)
}

// Known reports whether c belongs to the catalog.
func (c PermissionCode) Known() bool {
	_, ok := catalogByValue[c]
	return ok
}

func (c PermissionCode) String() string {
	if e, ok := catalogByValue[c]; ok {
		return e.Name
	}
	return "Permission(" + strconv.Itoa(int(c)) + ")"
}

// ParsePermissionCode accepts a catalog name (case-insensitive) or its numeric value.
func ParsePermissionCode(s string) (PermissionCode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if c := PermissionCode(n); c.Known() {
			return c, nil
		}
		return 0, fmt.Errorf("%w: unknown permission %d", ErrInvalidInput, n)
	}
	if e, ok := catalogByName[strings.ToLower(s)]; ok {
		return e.Value, nil
	}
	return 0, fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, s)
}

// PermissionSet is a set of permission codes without duplicates.
type PermissionSet map[PermissionCode]struct{}

// NewPermissionSet builds a set, dropping duplicates.
func NewPermissionSet(codes ...PermissionCode) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(c PermissionCode) bool {
	_, ok := s[c]
	return ok
}

// Add inserts c and reports whether it was missing.
func (s PermissionSet) Add(c PermissionCode) bool {
	if s.Has(c) {
		return false
	}
	s[c] = struct{}{}
	return true
}

// Remove deletes c and reports whether it was present.
func (s PermissionSet) Remove(c PermissionCode) bool {
	if !s.Has(c) {
		return false
	}
	delete(s, c)
	return true
}

// Codes returns the members in ascending order. The result is never nil.
func (s PermissionSet) Codes() []PermissionCode {
	out := make([]PermissionCode, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Default group names.
const (
	GroupIndividual = "Individual"
	GroupCorporate  = "Corporate"
	GroupAdmin      = "Admin"
)

// DefaultGroups are provisioned on startup and on demand during registration.
var DefaultGroups = []struct {
	Name        string
	Description string
}{
	{GroupIndividual, "Default group for individual accounts"},
	{GroupCorporate, "Default group for corporate accounts"},
	{GroupAdmin, "Administrators"},
}

// DefaultGroupFor returns the group name a new user of type t joins.
func DefaultGroupFor(t UserType) string {
	if t == UserTypeCorporate {
		return GroupCorporate
	}
	return GroupIndividual
}

func defaultGroupDescription(name string) string {
	for _, g := range DefaultGroups {
		if g.Name == name {
			return g.Description
		}
	}
	return ""
}
