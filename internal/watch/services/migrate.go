package services

import (
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Corporation record migrations. Each step is a pure function over the raw
// document shape, applied in order on load so records written by any past
// release come out in the current shape. Steps are idempotent: running the
// pipeline over an already-current document changes nothing.

type corpMigration struct {
	name  string
	apply func(doc bson.M) bson.M
}

var corpMigrations = []corpMigration{
	{name: "fold characters into members", apply: foldCharactersIntoMembers},
	{name: "fold channelId into channelIds", apply: foldChannelIDIntoChannelIDs},
	{name: "default set_roles_enabled", apply: defaultSetRolesEnabled},
}

// MigrateCorporationDoc runs the corporation migration pipeline on one raw
// document.
func MigrateCorporationDoc(doc bson.M) bson.M {
	for _, m := range corpMigrations {
		doc = m.apply(doc)
	}
	return doc
}

// foldCharactersIntoMembers converts the oldest shape, where credentials
// hung off the corporation as a flat "characters" list, into the member
// grouping keyed by owning user.
func foldCharactersIntoMembers(doc bson.M) bson.M {
	rawChars, ok := doc["characters"]
	if !ok {
		return doc
	}

	chars, ok := rawChars.(bson.A)
	if !ok {
		delete(doc, "characters")
		return doc
	}

	members, _ := doc["members"].(bson.A)
	byUser := make(map[string]bson.M)
	for _, rawMember := range members {
		if member, ok := rawMember.(bson.M); ok {
			if userID, ok := member["user_id"].(string); ok {
				byUser[userID] = member
			}
		}
	}

	for _, rawChar := range chars {
		char, ok := rawChar.(bson.M)
		if !ok {
			continue
		}
		userID, _ := char["user_id"].(string)

		member, ok := byUser[userID]
		if !ok {
			member = bson.M{"user_id": userID, "characters": bson.A{}}
			byUser[userID] = member
			members = append(members, member)
		}

		memberChars, _ := member["characters"].(bson.A)
		member["characters"] = append(memberChars, char)
	}

	doc["members"] = members
	delete(doc, "characters")
	return doc
}

// foldChannelIDIntoChannelIDs converts the singular channel_id field into
// the channel_ids list.
func foldChannelIDIntoChannelIDs(doc bson.M) bson.M {
	rawID, ok := doc["channel_id"]
	if !ok {
		return doc
	}

	channelIDs, _ := doc["channel_ids"].(bson.A)
	if id, ok := rawID.(string); ok && id != "" && !containsString(channelIDs, id) {
		channelIDs = append(channelIDs, id)
	}

	doc["channel_ids"] = channelIDs
	delete(doc, "channel_id")
	return doc
}

func defaultSetRolesEnabled(doc bson.M) bson.M {
	if _, ok := doc["set_roles_enabled"]; !ok {
		doc["set_roles_enabled"] = false
	}
	return doc
}

func containsString(arr bson.A, s string) bool {
	for _, v := range arr {
		if str, ok := v.(string); ok && str == s {
			return true
		}
	}
	return false
}

// MigrateChannelDoc backfills feature toggles that predate a given record.
// Toggles default to enabled, matching lazy config creation.
func MigrateChannelDoc(doc bson.M) bson.M {
	for _, toggle := range []string{"starbase_fuel", "starbase_status", "structure_fuel", "structure_status", "mining_updates"} {
		if _, ok := doc[toggle]; !ok {
			doc[toggle] = true
		}
	}
	return doc
}

// DedupeCorporationDocs merges corporation documents that collide on
// (corporation_id, server_id): channel lists and members are unioned, and
// for colliding credentials the copy holding a non-empty refresh token
// wins. A detached copy alongside an attached one for the same corporation
// is collapsed first, the most recently updated record decides the server
// binding. Corporations tracked on two different servers are reported but
// left alone, that is an operational condition to investigate, not one to
// auto-resolve.
func DedupeCorporationDocs(docs []bson.M) []bson.M {
	docs = collapseDetachedDuplicates(docs)

	type corpKey struct {
		corporationID int
		serverID      string
	}

	byKey := make(map[corpKey]bson.M)
	byCorpID := make(map[int][]string)
	result := make([]bson.M, 0, len(docs))

	for _, doc := range docs {
		corpID := asInt(doc["corporation_id"])
		serverID, _ := doc["server_id"].(string)
		key := corpKey{corporationID: corpID, serverID: serverID}

		existing, ok := byKey[key]
		if !ok {
			byKey[key] = doc
			byCorpID[corpID] = append(byCorpID[corpID], serverID)
			result = append(result, doc)
			continue
		}

		slog.Warn("Merging duplicate corporation records",
			slog.Int("corporation_id", corpID),
			slog.String("server_id", serverID))
		mergeCorporationDocs(existing, doc)
	}

	for corpID, serverIDs := range byCorpID {
		if len(serverIDs) > 1 {
			slog.Warn("Corporation tracked on multiple servers",
				slog.Int("corporation_id", corpID),
				slog.String("servers", fmt.Sprintf("%v", serverIDs)))
		}
	}

	return result
}

// collapseDetachedDuplicates folds documents for a corporation that appears
// both with and without a server binding into one record. Older releases
// keyed the upsert on (corporation_id, server_id), so a detach inserted a
// fresh unbound document and left the bound one behind; loading both would
// resume posting to the server the corporation was detached from. The most
// recently updated copy keeps its server binding and channel list, members
// and credentials are merged so no authorization is lost.
func collapseDetachedDuplicates(docs []bson.M) []bson.M {
	attached := make(map[int]bool)
	detached := make(map[int]bool)
	for _, doc := range docs {
		corpID := asInt(doc["corporation_id"])
		if serverID, _ := doc["server_id"].(string); serverID == "" {
			detached[corpID] = true
		} else {
			attached[corpID] = true
		}
	}

	latest := make(map[int]bson.M)
	var collapsedIDs []int
	result := make([]bson.M, 0, len(docs))

	for _, doc := range docs {
		corpID := asInt(doc["corporation_id"])
		if !attached[corpID] || !detached[corpID] {
			result = append(result, doc)
			continue
		}

		current, ok := latest[corpID]
		if !ok {
			latest[corpID] = doc
			collapsedIDs = append(collapsedIDs, corpID)
			continue
		}

		slog.Warn("Collapsing stale corporation record left by a detach",
			slog.Int("corporation_id", corpID))
		if docUpdatedAt(doc).After(docUpdatedAt(current)) {
			mergeCorporationMembers(doc, current)
			latest[corpID] = doc
		} else {
			mergeCorporationMembers(current, doc)
		}
	}

	for _, corpID := range collapsedIDs {
		result = append(result, latest[corpID])
	}
	return result
}

func docUpdatedAt(doc bson.M) time.Time {
	switch v := doc["updated_at"].(type) {
	case time.Time:
		return v
	case primitive.DateTime:
		return v.Time()
	}
	return time.Time{}
}

func mergeCorporationDocs(dst, src bson.M) {
	dstChannels, _ := dst["channel_ids"].(bson.A)
	srcChannels, _ := src["channel_ids"].(bson.A)
	for _, raw := range srcChannels {
		if id, ok := raw.(string); ok && !containsString(dstChannels, id) {
			dstChannels = append(dstChannels, id)
		}
	}
	dst["channel_ids"] = dstChannels

	mergeCorporationMembers(dst, src)
}

// mergeCorporationMembers unions the member lists of two corporation
// documents, merging credential lists for members present in both.
func mergeCorporationMembers(dst, src bson.M) {
	dstMembers, _ := dst["members"].(bson.A)
	srcMembers, _ := src["members"].(bson.A)
	for _, rawSrc := range srcMembers {
		srcMember, ok := rawSrc.(bson.M)
		if !ok {
			continue
		}
		srcUserID, _ := srcMember["user_id"].(string)

		var dstMember bson.M
		for _, rawDst := range dstMembers {
			if m, ok := rawDst.(bson.M); ok {
				if userID, _ := m["user_id"].(string); userID == srcUserID {
					dstMember = m
					break
				}
			}
		}

		if dstMember == nil {
			dstMembers = append(dstMembers, srcMember)
			continue
		}
		mergeMemberCredentials(dstMember, srcMember)
	}
	dst["members"] = dstMembers
}

// mergeMemberCredentials unions two credential lists for the same user,
// keeping the copy with a non-empty refresh token when both records carry
// the same character.
func mergeMemberCredentials(dst, src bson.M) {
	dstChars, _ := dst["characters"].(bson.A)
	srcChars, _ := src["characters"].(bson.A)

	for _, rawSrc := range srcChars {
		srcChar, ok := rawSrc.(bson.M)
		if !ok {
			continue
		}
		srcID := asInt(srcChar["character_id"])

		replaced := false
		for i, rawDst := range dstChars {
			dstChar, ok := rawDst.(bson.M)
			if !ok {
				continue
			}
			if asInt(dstChar["character_id"]) != srcID {
				continue
			}

			dstToken, _ := dstChar["refresh_token"].(string)
			srcToken, _ := srcChar["refresh_token"].(string)
			if dstToken == "" && srcToken != "" {
				dstChars[i] = srcChar
			}
			replaced = true
			break
		}

		if !replaced {
			dstChars = append(dstChars, srcChar)
		}
	}
	dst["characters"] = dstChars
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
