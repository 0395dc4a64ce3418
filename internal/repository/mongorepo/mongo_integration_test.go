//go:build integration

package mongorepo_test

// MongoDB store against a single-node replica set via testcontainers.
// Run with: go test -tags integration ./internal/repository/mongorepo/... -v

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"registerhub/internal/model"
	"registerhub/internal/repository"
	"registerhub/internal/repository/mongorepo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcMongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoDB = "registerhub_test"

type mongoEnv struct {
	store  *mongorepo.Store
	client *mongo.Client
}

func setupMongo(t *testing.T) *mongoEnv {
	t.Helper()
	ctx := context.Background()

	// Transactions and change streams both need a replica set.
	mC, err := tcMongo.RunContainer(ctx,
		testcontainers.WithImage("mongo:7"),
		testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Cmd: []string{"--replSet", "rs0", "--bind_ip_all"},
			},
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mC.Terminate(ctx) })

	code, _, err := mC.Exec(ctx, []string{"mongosh", "--quiet", "--eval",
		"rs.initiate({_id: 'rs0', members: [{_id: 0, host: 'localhost:27017'}]})"})
	require.NoError(t, err)
	require.Zero(t, code, "rs.initiate failed")

	uri, err := mC.ConnectionString(ctx)
	require.NoError(t, err)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetDirect(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	require.Eventually(t, func() bool {
		var hello struct {
			IsWritablePrimary bool `bson:"isWritablePrimary"`
		}
		err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
		return err == nil && hello.IsWritablePrimary
	}, 30*time.Second, 250*time.Millisecond, "replica set never elected a primary")

	st, err := mongorepo.New(ctx, client, mongoDB)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	go st.ChangeFeed().Run(runCtx)
	t.Cleanup(func() {
		cancel()
		st.ChangeFeed().Close()
	})
	return &mongoEnv{store: st, client: client}
}

func mongoRegister(t *testing.T, st repository.Store, businessID uuid.UUID) *model.Register {
	t.Helper()
	reg := &model.Register{
		ID:           uuid.New(),
		BusinessID:   businessID,
		Name:         "R-" + uuid.NewString()[:8],
		AdminStatus:  model.AdminStatusActive,
		LastActivity: time.Now().UTC(),
		Version:      1,
	}
	require.NoError(t, st.Registers().Create(context.Background(), reg))
	return reg
}

func mongoSession(businessID, registerID, userID uuid.UUID) *model.Session {
	return &model.Session{
		ID:         uuid.New(),
		BusinessID: businessID,
		RegisterID: registerID,
		UserID:     userID,
		StartTime:  time.Now().UTC(),
		Status:     model.SessionActive,
		Version:    1,
	}
}

func TestMongo_ConcurrentClaimSingleWinner(t *testing.T) {
	env := setupMongo(t)
	st := env.store
	ctx := context.Background()
	biz := uuid.New()
	reg := mongoRegister(t, st, biz)

	const n = 10
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		wins    int
		refused int
	)
	for i := 0; i < n; i++ {
		sess := mongoSession(biz, reg.ID, uuid.New())
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := st.Claims().Claim(ctx, sess)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, repository.ErrRegisterHasActiveSession):
				refused++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, refused)

	_, total, err := st.Sessions().List(ctx, biz, repository.SessionFilter{RegisterID: &reg.ID}, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "losing claims must not leave sessions behind")
}

func TestMongo_UserIndexReleaseAndDeleteGuard(t *testing.T) {
	st := setupMongo(t).store
	ctx := context.Background()
	biz, user := uuid.New(), uuid.New()
	r1, r2 := mongoRegister(t, st, biz), mongoRegister(t, st, biz)

	first := mongoSession(biz, r1.ID, user)
	_, err := st.Claims().Claim(ctx, first)
	require.NoError(t, err)

	_, err = st.Claims().Claim(ctx, mongoSession(biz, r2.ID, user))
	assert.ErrorIs(t, err, repository.ErrUserHasActiveSession)

	assert.ErrorIs(t, st.Registers().Delete(ctx, biz, r1.ID), repository.ErrRegisterHasActiveSession)

	closed, cleared, err := st.Claims().Release(ctx, biz, first.ID, time.Now().UTC(), decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Equal(t, model.SessionClosed, closed.Status)

	_, _, err = st.Claims().Release(ctx, biz, first.ID, time.Now().UTC(), decimal.Zero)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
	_, _, err = st.Claims().Release(ctx, biz, uuid.New(), time.Now().UTC(), decimal.Zero)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	reg, err := st.Registers().FindByID(ctx, biz, r1.ID)
	require.NoError(t, err)
	assert.Nil(t, reg.Claim())
	require.NoError(t, st.Registers().Delete(ctx, biz, r1.ID))
}

func TestMongo_InactiveRegisterRefusesClaim(t *testing.T) {
	st := setupMongo(t).store
	ctx := context.Background()
	biz := uuid.New()
	reg := mongoRegister(t, st, biz)

	reg.AdminStatus = model.AdminStatusMaintenance
	require.NoError(t, st.Registers().UpdateAdmin(ctx, reg))

	sess := mongoSession(biz, reg.ID, uuid.New())
	_, err := st.Claims().Claim(ctx, sess)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)

	_, err = st.Sessions().FindByID(ctx, biz, sess.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound, "the aborted transaction must not keep the session")

	_, err = st.Claims().Claim(ctx, mongoSession(biz, uuid.New(), uuid.New()))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMongo_AddSale(t *testing.T) {
	st := setupMongo(t).store
	ctx := context.Background()
	biz := uuid.New()
	reg := mongoRegister(t, st, biz)
	sess := mongoSession(biz, reg.ID, uuid.New())
	_, err := st.Claims().Claim(ctx, sess)
	require.NoError(t, err)

	_, err = st.Sessions().AddSale(ctx, biz, sess.ID, decimal.RequireFromString("10.10"))
	require.NoError(t, err)
	got, err := st.Sessions().AddSale(ctx, biz, sess.ID, decimal.RequireFromString("0.20"))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.30").Equal(got.TotalSales), got.TotalSales.String())
	assert.Equal(t, 2, got.TotalTransactions)

	_, _, err = st.Claims().Release(ctx, biz, sess.ID, time.Now().UTC(), decimal.Zero)
	require.NoError(t, err)
	_, err = st.Sessions().AddSale(ctx, biz, sess.ID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
}

func TestMongo_ClearOrphan(t *testing.T) {
	env := setupMongo(t)
	st := env.store
	ctx := context.Background()
	biz := uuid.New()
	reg := mongoRegister(t, st, biz)

	sess := mongoSession(biz, reg.ID, uuid.New())
	_, err := st.Claims().Claim(ctx, sess)
	require.NoError(t, err)

	cleared, err := st.Claims().ClearOrphan(ctx, biz, reg.ID, sess.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, cleared, "an active session keeps its claim")

	// Close the session behind the claim protocol.
	_, err = env.client.Database(mongoDB).Collection("register_sessions").UpdateOne(ctx,
		bson.M{"_id": sess.ID.String()},
		bson.M{"$set": bson.M{"status": string(model.SessionClosed)}})
	require.NoError(t, err)

	cleared, err = st.Claims().ClearOrphan(ctx, biz, reg.ID, sess.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, cleared)

	_, err = st.Claims().Claim(ctx, mongoSession(biz, reg.ID, uuid.New()))
	require.NoError(t, err, "the register is claimable again")
}

func TestMongo_FeedDeliversClaimAndDelete(t *testing.T) {
	st := setupMongo(t).store
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	biz := uuid.New()

	events, err := st.Feed().Subscribe(ctx, biz)
	require.NoError(t, err)

	// The change streams open asynchronously; wait until inserts come through.
	require.Eventually(t, func() bool {
		mongoRegister(t, st, biz)
		for {
			select {
			case evt := <-events:
				if evt.Collection == model.CollectionRegisters && evt.Op == model.OpInsert {
					return true
				}
			default:
				return false
			}
		}
	}, 15*time.Second, 300*time.Millisecond)

	reg := mongoRegister(t, st, biz)
	sess := mongoSession(biz, reg.ID, uuid.New())
	_, err = st.Claims().Claim(ctx, sess)
	require.NoError(t, err)
	_, _, err = st.Claims().Release(ctx, biz, sess.ID, time.Now().UTC(), decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, st.Registers().Delete(ctx, biz, reg.ID))

	var sawClaim bool
	for {
		select {
		case evt, ok := <-events:
			require.True(t, ok)
			if evt.Collection != model.CollectionRegisters || evt.ID != reg.ID {
				continue
			}
			if evt.Register != nil && evt.Register.Claim() != nil {
				assert.Equal(t, sess.ID, evt.Register.Claim().SessionID)
				sawClaim = true
			}
			if evt.Op == model.OpDelete {
				assert.True(t, sawClaim, "claim must arrive before the delete")
				assert.Equal(t, biz, evt.BusinessID, "deletes are routed to the owning business")
				return
			}
		case <-ctx.Done():
			t.Fatal("delete never reached the feed")
		}
	}
}
