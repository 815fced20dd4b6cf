package session_test

import (
	"context"
	"net"
	"testing"
	"time"

	"battleserver/internal/endpoint"
	"battleserver/internal/marine"
	"battleserver/internal/message"
	"battleserver/internal/room"
	"battleserver/internal/session"
	"battleserver/internal/terrain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var mapSize = marine.Size{Width: 100, Height: 80}

type client struct {
	conn net.Conn
	tr   endpoint.Transport
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, tr: endpoint.NewConnTransport(conn, 0)}
}

func (c *client) send(t *testing.T, data []byte) {
	t.Helper()
	require.NoError(t, c.tr.WriteFrame(data))
}

func (c *client) recv(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	data, err := c.tr.ReadFrame()
	require.NoError(t, err)
	return data
}

func (c *client) player(t *testing.T) *message.PlayerMessage {
	t.Helper()
	m, err := message.DecodePlayerMessage(c.recv(t))
	require.NoError(t, err)
	return m
}

// playerUntil は指定した種類のメッセージが来るまで読み捨てる
func (c *client) playerUntil(t *testing.T, kind message.PlayerMessageKind) *message.PlayerMessage {
	t.Helper()
	for {
		m := c.player(t)
		if m.Kind == kind {
			return m
		}
	}
}

func (c *client) observer(t *testing.T) *message.ObserverMessage {
	t.Helper()
	m, err := message.DecodeObserverMessage(c.recv(t))
	require.NoError(t, err)
	return m
}

func startServer(t *testing.T, settings room.Settings) (observerAddr, playerAddr string) {
	t.Helper()
	observerAddr, playerAddr, _ = startServerWithManager(t, settings)
	return observerAddr, playerAddr
}

func startServerWithManager(t *testing.T, settings room.Settings) (observerAddr, playerAddr string, manager *room.Manager) {
	t.Helper()
	catalog := terrain.NewCatalog(map[int32]marine.Size{7: mapSize}, marine.Size{Width: 50, Height: 50})
	manager = room.NewManager(settings, catalog, marine.NewLocalFactory(), zap.NewNop())
	srv := session.NewServer(manager, session.Settings{}, zap.NewNop())

	ol, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	pl, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.ServeObservers(ctx, ol)
	go srv.ServePlayers(ctx, pl)
	t.Cleanup(func() {
		cancel()
		manager.Close()
		srv.Wait()
	})
	return ol.Addr().String(), pl.Addr().String(), manager
}

func testSettings() room.Settings {
	s := room.DefaultSettings()
	s.SettleDelay = time.Millisecond
	s.DrainTimeout = 50 * time.Millisecond
	return s
}

func createRoom(t *testing.T, obs *client) int32 {
	t.Helper()
	obs.send(t, message.EncodeObserverCommand(message.ObserverCommand{
		Kind:       message.ObserverCreateRoom,
		CreateRoom: &message.CreateRoom{MapID: 7},
	}))
	resp := obs.observer(t)
	require.Equal(t, message.ObserverCmdResponse, resp.Kind)
	require.NotNil(t, resp.Response)
	require.Equal(t, message.CodeOK, resp.Response.Ret)
	require.NotNil(t, resp.Response.Size)
	assert.Equal(t, mapSize, *resp.Response.Size)
	return resp.Response.RoomID
}

func joinRoom(t *testing.T, p *client, roomID, color int32) *message.Response {
	t.Helper()
	p.send(t, message.EncodePlayerCommand(message.PlayerCommand{
		Kind:     message.PlayerJoinRoom,
		JoinRoom: &message.JoinRoom{RoomID: roomID, Color: color},
	}))
	m := p.player(t)
	require.Equal(t, message.PlayerCmdResponse, m.Kind)
	require.NotNil(t, m.Response)
	return m.Response
}

func operate(t *testing.T, p *client, id int32, status marine.Status, target *marine.Position) {
	t.Helper()
	p.send(t, message.EncodePlayerCommand(message.PlayerCommand{
		Kind:    message.PlayerOperateMarine,
		Operate: &message.OperateMarine{MarineID: id, Status: status, Target: target},
	}))
}

func expectCode(t *testing.T, p *client, want message.Code) {
	t.Helper()
	m := p.player(t)
	require.Equal(t, message.PlayerCmdResponse, m.Kind)
	assert.Equal(t, want, m.Response.Ret)
	assert.Equal(t, int32(message.PlayerOperateMarine), m.Response.Cmd)
}

func startBattle(t *testing.T) (obs, a, b *client, aJoin, bJoin *message.Response) {
	t.Helper()
	obsAddr, playerAddr := startServer(t, testSettings())
	return startBattleOn(t, obsAddr, playerAddr)
}

func startBattleOn(t *testing.T, obsAddr, playerAddr string) (obs, a, b *client, aJoin, bJoin *message.Response) {
	t.Helper()
	obs = dial(t, obsAddr)
	roomID := createRoom(t, obs)

	a, b = dial(t, playerAddr), dial(t, playerAddr)
	aJoin = joinRoom(t, a, roomID, 1)
	require.Equal(t, message.CodeOK, aJoin.Ret)
	bJoin = joinRoom(t, b, roomID, 2)
	require.Equal(t, message.CodeOK, bJoin.Ret)

	assert.Equal(t, message.PlayerStartBattle, a.player(t).Kind)
	assert.Equal(t, message.PlayerStartBattle, b.player(t).Kind)
	return obs, a, b, aJoin, bJoin
}

func TestEndToEnd_CreateJoinStart(t *testing.T) {
	obs, _, _, aJoin, bJoin := startBattle(t)

	for _, join := range []*message.Response{aJoin, bJoin} {
		require.Len(t, join.Marines, 2)
		assert.Equal(t, mapSize, *join.Size)
		for _, v := range join.Marines {
			assert.True(t, mapSize.Contains(v.Position))
			assert.NotNil(t, v.Flares)
			assert.Equal(t, int32(100), v.HP)
		}
	}
	assert.Equal(t, aJoin.RoomID, bJoin.RoomID)

	for _, color := range []int32{1, 2} {
		m := obs.observer(t)
		require.Equal(t, message.ObserverMarineCreated, m.Kind)
		assert.Equal(t, color, m.Created.Color)
		assert.Len(t, m.Created.Marines, 2)
	}
}

func TestPlayer_Rejections(t *testing.T) {
	obsAddr, playerAddr := startServer(t, testSettings())

	p := dial(t, playerAddr)
	operate(t, p, 1, marine.StatusRun, nil)
	expectCode(t, p, message.CodeBattleNotStarted)

	assert.Equal(t, message.CodeRoomNotFound, joinRoom(t, p, 1, 1).Ret)

	p.send(t, message.EncodePlayerCommand(message.PlayerCommand{Kind: message.PlayerCreateMarine}))
	m := p.player(t)
	assert.Equal(t, message.CodeUnsupported, m.Response.Ret)
	assert.Equal(t, int32(message.PlayerCreateMarine), m.Response.Cmd)

	obs := dial(t, obsAddr)
	obs.send(t, message.EncodeObserverCommand(message.ObserverCommand{
		Kind:     message.ObserverJoinRoom,
		JoinRoom: &message.JoinRoom{RoomID: 1},
	}))
	om := obs.observer(t)
	assert.Equal(t, message.CodeUnsupported, om.Response.Ret)
	assert.Equal(t, int32(message.ObserverJoinRoom), om.Response.Cmd)

	// 開始前の部屋では操作できない
	roomID := createRoom(t, obs)
	join := joinRoom(t, p, roomID, 1)
	require.Equal(t, message.CodeOK, join.Ret)
	operate(t, p, join.Marines[0].ID, marine.StatusRun, nil)
	expectCode(t, p, message.CodeBattleNotStarted)

	// 部屋の上限を超える参加は 15
	q, r := dial(t, playerAddr), dial(t, playerAddr)
	require.Equal(t, message.CodeOK, joinRoom(t, q, roomID, 2).Ret)
	assert.Equal(t, message.CodeRoomFull, joinRoom(t, r, roomID, 3).Ret)
}

func TestPlayer_OperateMarine(t *testing.T) {
	obs, a, _, aJoin, bJoin := startBattle(t)
	// MarineCreated を読み飛ばす
	obs.observer(t)
	obs.observer(t)

	mine := aJoin.Marines[0].ID

	operate(t, a, bJoin.Marines[0].ID, marine.StatusRun, nil)
	expectCode(t, a, message.CodeMarineNotFound)

	operate(t, a, mine, marine.StatusGunAttack, &marine.Position{X: 101, Z: 0})
	expectCode(t, a, message.CodeOutOfMap)

	// 成功時はプレイヤーに応答がなく、観戦者だけが更新を受け取る
	target := marine.Position{X: 100, Z: 80}
	operate(t, a, mine, marine.StatusGunAttack, &target)
	om := obs.observer(t)
	require.Equal(t, message.ObserverSceneUpdate, om.Kind)
	require.Len(t, om.Update, 1)
	assert.Equal(t, mine, om.Update[0].ID)
	assert.Equal(t, marine.StatusGunAttack, om.Update[0].Status)
	assert.Equal(t, &target, om.Update[0].Target)

	operate(t, a, mine, marine.StatusGunAttack, &target)
	expectCode(t, a, message.CodeGunCoolDown)

	for i := 0; i < marine.InitialFlares; i++ {
		operate(t, a, mine, marine.StatusFlares, nil)
		om := obs.observer(t)
		require.Equal(t, message.ObserverSceneUpdate, om.Kind)
		assert.Equal(t, int32(marine.InitialFlares-1-i), *om.Update[0].Flares)
	}
	operate(t, a, mine, marine.StatusFlares, nil)
	expectCode(t, a, message.CodeEmptyFlares)
}

func TestEndToEnd_Elimination(t *testing.T) {
	s := testSettings()
	s.MarinesPerPlayer = 1
	obsAddr, playerAddr := startServer(t, s)
	obs, a, b, aJoin, _ := startBattleOn(t, obsAddr, playerAddr)
	require.Len(t, aJoin.Marines, 1)
	victim := aJoin.Marines[0].ID

	for i := 0; i < 10; i++ {
		obs.send(t, message.EncodeObserverCommand(message.ObserverCommand{
			Kind: message.ObserverMarineReport,
			Report: &message.MarineReport{
				Kind:   message.ReportDamage,
				Damage: &message.MarineState{ID: victim, Status: marine.StatusIdle},
			},
		}))
	}

	endA := a.playerUntil(t, message.PlayerEndBattle)
	assert.Equal(t, &message.EndBattle{Reason: "Normal", Win: false}, endA.EndBattle)
	endB := b.playerUntil(t, message.PlayerEndBattle)
	assert.Equal(t, &message.EndBattle{Reason: "Normal", Win: true}, endB.EndBattle)
}

func TestObserver_MalformedCommandDropsConnection(t *testing.T) {
	obsAddr, _ := startServer(t, testSettings())
	obs := dial(t, obsAddr)

	obs.send(t, []byte{0xff, 0xff})

	require.NoError(t, obs.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := obs.tr.ReadFrame()
	assert.Error(t, err)
}

func TestObserver_JoinsBeforeCreateRoomReply(t *testing.T) {
	obsAddr, _, manager := startServerWithManager(t, testSettings())
	obs := dial(t, obsAddr)

	roomID := createRoom(t, obs)
	r, err := manager.Room(roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Summary().Observers)
}

func report(t *testing.T, obs *client, r message.MarineReport) {
	t.Helper()
	obs.send(t, message.EncodeObserverCommand(message.ObserverCommand{
		Kind:   message.ObserverMarineReport,
		Report: &r,
	}))
}

func toIdle(t *testing.T, obs *client, id int32, pos marine.Position) {
	t.Helper()
	report(t, obs, message.MarineReport{
		Kind: message.ReportToIdle,
		Idle: &message.MarineState{ID: id, Status: marine.StatusIdle, Position: &pos},
	})
}

// skipCreated は参加時の MarineCreated を読み飛ばす
func skipCreated(t *testing.T, obs *client) {
	t.Helper()
	for i := 0; i < 2; i++ {
		require.Equal(t, message.ObserverMarineCreated, obs.observer(t).Kind)
	}
}

func sceneUpdate(t *testing.T, p *client) *message.SceneUpdate {
	t.Helper()
	m := p.player(t)
	require.Equal(t, message.PlayerSceneUpdate, m.Kind)
	require.NotNil(t, m.Update)
	return m.Update
}

func TestReport_ToIdle(t *testing.T) {
	obs, a, b, aJoin, bJoin := startBattle(t)
	am, bm := aJoin.Marines[0].ID, bJoin.Marines[0].ID

	// A は B の marine の報告を捨て、自分の marine の報告だけを受け取る
	toIdle(t, obs, bm, marine.Position{X: 5, Z: 6})
	toIdle(t, obs, am, marine.Position{X: 10, Z: 20})

	u := sceneUpdate(t, a)
	require.Len(t, u.Own, 1)
	assert.Empty(t, u.Others)
	assert.Equal(t, am, u.Own[0].ID)
	assert.Equal(t, marine.StatusIdle, u.Own[0].Status)
	assert.Equal(t, marine.Position{X: 10, Z: 20}, u.Own[0].Position)

	u = sceneUpdate(t, b)
	require.Len(t, u.Own, 1)
	assert.Empty(t, u.Others)
	assert.Equal(t, bm, u.Own[0].ID)
	assert.Equal(t, marine.Position{X: 5, Z: 6}, u.Own[0].Position)

	// 範囲外の位置は捨てられる
	toIdle(t, obs, am, marine.Position{X: 500, Z: 6})
	toIdle(t, obs, am, marine.Position{X: 1, Z: 2})
	u = sceneUpdate(t, a)
	assert.Equal(t, marine.Position{X: 1, Z: 2}, u.Own[0].Position)
}

func TestReport_AttackerAcknowledged(t *testing.T) {
	obs, a, b, aJoin, _ := startBattle(t)
	skipCreated(t, obs)
	am := aJoin.Marines[0].ID

	report(t, obs, message.MarineReport{
		Kind:   message.ReportDamage,
		Damage: &message.MarineState{ID: 0, Status: marine.StatusIdle},
		Attack: &message.MarineState{ID: am, Status: marine.StatusGunAttack},
	})

	om := obs.observer(t)
	require.Equal(t, message.ObserverSceneUpdate, om.Kind)
	require.Len(t, om.Update, 1)
	assert.Equal(t, am, om.Update[0].ID)
	assert.Equal(t, marine.RoleAttacker, om.Update[0].Role)
	assert.Equal(t, int32(marine.InitialHP), om.Update[0].HP)

	u := sceneUpdate(t, a)
	require.Len(t, u.Own, 1)
	assert.Equal(t, marine.RoleAttacker, u.Own[0].Role)
	assert.Equal(t, marine.StatusGunAttack, u.Own[0].Status)

	u = sceneUpdate(t, b)
	assert.Empty(t, u.Own)
	require.Len(t, u.Others, 1)
	assert.Equal(t, am, u.Others[0].ID)
	assert.Equal(t, marine.RoleAttacker, u.Others[0].Role)
	assert.Nil(t, u.Others[0].Target)
	assert.Nil(t, u.Others[0].Flares)
}

func TestReport_GunAttackSkipsReporter(t *testing.T) {
	obs, a, b, aJoin, _ := startBattle(t)
	am := aJoin.Marines[0].ID

	report(t, obs, message.MarineReport{
		Kind:       message.ReportGunAttack,
		Marines:    []message.MarineState{{ID: am, Status: marine.StatusGunAttack}},
		ReporterID: am,
	})
	toIdle(t, obs, am, marine.Position{X: 3, Z: 4})

	// 射撃の報告は A に何も返さないので、次に届くのは toIdle の結果
	u := sceneUpdate(t, a)
	require.Len(t, u.Own, 1)
	assert.Equal(t, marine.StatusIdle, u.Own[0].Status)

	u = sceneUpdate(t, b)
	assert.Empty(t, u.Own)
	require.Len(t, u.Others, 1)
	assert.Equal(t, am, u.Others[0].ID)
	assert.Equal(t, marine.StatusGunAttack, u.Others[0].Status)
}

func TestReport_Flares(t *testing.T) {
	obs, a, b, aJoin, bJoin := startBattle(t)
	am, bm := aJoin.Marines[0].ID, bJoin.Marines[0].ID

	flares := func(kind message.ReportKind) {
		report(t, obs, message.MarineReport{
			Kind:       kind,
			Marines:    []message.MarineState{{ID: am, Status: marine.StatusFlares}},
			ReporterID: am,
		})
		u := sceneUpdate(t, a)
		require.Len(t, u.Own, 1)
		assert.Equal(t, am, u.Own[0].ID)
		assert.Equal(t, marine.StatusFlares, u.Own[0].Status)
		assert.Len(t, u.Others, len(bJoin.Marines))
		for _, v := range u.Others {
			assert.Nil(t, v.Target)
			assert.Nil(t, v.Flares)
		}
	}

	flares(message.ReportFlares)
	u := sceneUpdate(t, b)
	assert.Empty(t, u.Own)
	require.Len(t, u.Others, 1)
	assert.Equal(t, am, u.Others[0].ID)

	// flares2 は相手に報告者を見せない
	flares(message.ReportFlares2)
	toIdle(t, obs, bm, marine.Position{X: 7, Z: 8})
	u = sceneUpdate(t, b)
	require.Len(t, u.Own, 1)
	assert.Equal(t, bm, u.Own[0].ID)
	assert.Empty(t, u.Others)
}

func TestMarine_RoleResetsAfterDamage(t *testing.T) {
	obs, a, _, aJoin, _ := startBattle(t)
	skipCreated(t, obs)
	am := aJoin.Marines[0].ID

	damage := func() {
		report(t, obs, message.MarineReport{
			Kind:   message.ReportDamage,
			Damage: &message.MarineState{ID: am, Status: marine.StatusIdle},
		})
		u := sceneUpdate(t, a)
		require.Len(t, u.Own, 1)
		assert.Equal(t, marine.RoleInjured, u.Own[0].Role)
		om := obs.observer(t)
		require.Equal(t, message.ObserverSceneUpdate, om.Kind)
		assert.Equal(t, marine.RoleInjured, om.Update[0].Role)
	}

	damage()
	operate(t, a, am, marine.StatusRun, nil)
	om := obs.observer(t)
	require.Equal(t, message.ObserverSceneUpdate, om.Kind)
	assert.Equal(t, am, om.Update[0].ID)
	assert.Equal(t, marine.StatusRun, om.Update[0].Status)
	assert.Equal(t, marine.RoleNormal, om.Update[0].Role)

	damage()
	toIdle(t, obs, am, marine.Position{X: 2, Z: 2})
	u := sceneUpdate(t, a)
	require.Len(t, u.Own, 1)
	assert.Equal(t, marine.RoleNormal, u.Own[0].Role)
	assert.Equal(t, int32(marine.InitialHP-20), u.Own[0].HP)
}
