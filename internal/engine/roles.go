package engine

import (
	"fmt"
	"math/rand"
	"strings"
)

type Team string

const (
	TeamGood Team = "good"
	TeamEvil Team = "evil"
)

// Role names are the canonical identifiers on the wire; clients render them
// directly.
type Role string

const (
	RoleMerlin   Role = "梅林"
	RolePercival Role = "派西维尔"
	RoleLoyal    Role = "忠臣"
	RoleAssassin Role = "刺客"
	RoleMorgana  Role = "莫甘娜"
	RoleOberon   Role = "奥伯伦"
)

// Alignment reports which side a role fights for.
func (r Role) Alignment() Team {
	switch r {
	case RoleAssassin, RoleMorgana, RoleOberon:
		return TeamEvil
	default:
		return TeamGood
	}
}

func (r Role) Notes() string {
	switch r {
	case RoleMerlin:
		return "你知道所有坏人身份，但要隐藏自己避免被刺杀"
	case RolePercival:
		return "你能看到梅林和莫甘娜，需识别真假梅林并保护真正的梅林"
	case RoleAssassin:
		return "游戏结束时负责刺杀梅林，刺中则坏人逆转获胜"
	case RoleMorgana:
		return "你会被派西维尔看到，可伪装成梅林误导好人"
	case RoleOberon:
		return "你与其他坏人互不相识，需自行辨识队友"
	default:
		return "你没有特殊信息，需通过推理找出坏人"
	}
}

// SevenPlayerRoles is the fixed distribution for a 7-seat game.
var SevenPlayerRoles = []Role{
	RoleMerlin,
	RolePercival,
	RoleLoyal,
	RoleLoyal,
	RoleAssassin,
	RoleMorgana,
	RoleOberon,
}

// Personalities are opaque flavour strings handed to AI players at game
// start. The server never interprets them.
var Personalities = []string{
	"沉稳冷静，善于分析，发言简洁有力",
	"热情活跃，喜欢带动气氛，善于引导话题",
	"谨慎多疑，喜欢质疑他人，观察力强",
	"直来直去，说话直接，不喜欢绕弯子",
	"幽默风趣，喜欢用轻松的方式表达观点",
	"沉默寡言，只在关键时刻发表意见",
	"老谋深算，喜欢设置陷阱试探他人",
	"情绪化，容易被他人发言影响",
	"自信满满，喜欢主导讨论方向",
	"圆滑世故，善于调和各方矛盾",
}

// assignRoles shuffles the role set over the seats and hands personalities to
// AI seats. Deterministic for a given rng.
func assignRoles(seats []Seat, rng *rand.Rand) (map[string]Role, map[string]string) {
	roles := make([]Role, len(SevenPlayerRoles))
	copy(roles, SevenPlayerRoles)
	rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })

	personalities := make([]string, len(Personalities))
	copy(personalities, Personalities)
	rng.Shuffle(len(personalities), func(i, j int) {
		personalities[i], personalities[j] = personalities[j], personalities[i]
	})

	assigned := make(map[string]Role, len(seats))
	flavours := make(map[string]string)
	pi := 0
	for i, seat := range seats {
		assigned[seat.PlayerID] = roles[i]
		if seat.IsAI {
			flavours[seat.PlayerID] = personalities[pi%len(personalities)]
			pi++
		}
	}
	return assigned, flavours
}

// knowledgeFor builds the secret information string a player learns from
// their role. This is the payload that must never leave that player's
// channel.
func knowledgeFor(playerID string, seats []Seat, roles map[string]Role) string {
	var evil, evilKnown []string
	var merlin, morgana string
	for _, s := range seats {
		switch roles[s.PlayerID] {
		case RoleAssassin, RoleMorgana:
			evil = append(evil, s.Name)
			if s.PlayerID != playerID {
				evilKnown = append(evilKnown, s.Name)
			}
		case RoleOberon:
			// Oberon is hidden from the other evil players but not from Merlin.
			evil = append(evil, s.Name)
		case RoleMerlin:
			merlin = s.Name
		}
		if roles[s.PlayerID] == RoleMorgana {
			morgana = s.Name
		}
	}

	switch roles[playerID] {
	case RoleMerlin:
		return fmt.Sprintf("知道所有坏人身份, 即%s是坏人", strings.Join(evil, ", "))
	case RolePercival:
		return fmt.Sprintf("知道%s和%s是梅林和莫甘娜, 但是不知道谁是谁", merlin, morgana)
	case RoleAssassin, RoleMorgana:
		if len(evilKnown) == 0 {
			return "无"
		}
		return fmt.Sprintf("知道%s是坏人", strings.Join(evilKnown, ", "))
	default:
		return "无"
	}
}
