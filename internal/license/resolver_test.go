package license

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/license-sync/internal/clone"
	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/events"
	"github.com/magabrotheeeer/license-sync/internal/host"
	"github.com/magabrotheeeer/license-sync/internal/models"
	"github.com/magabrotheeeer/license-sync/internal/notice"
	"github.com/magabrotheeeer/license-sync/internal/remote"
	"github.com/magabrotheeeer/license-sync/internal/remote/remotetest"
	"github.com/magabrotheeeer/license-sync/internal/store"
	"github.com/magabrotheeeer/license-sync/internal/store/storetest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeBulk сохраняет лицензию с увеличенным счётчиком так же, как
// multisite.Manager.
type fakeBulk struct {
	store     *store.Store
	licenseID int64
	blogIDs   []int64
}

func (f *fakeBulk) BulkActivate(ctx context.Context, l *models.License, blogIDs []int64) (*models.License, error) {
	f.licenseID = l.ID
	f.blogIDs = blogIDs
	updated := *l
	updated.Activated += len(blogIDs)
	if f.store != nil {
		if err := f.store.SaveLicenses(ctx, store.Network(), []*models.License{&updated}); err != nil {
			return nil, err
		}
	}
	return &updated, nil
}

type fixture struct {
	r       *Resolver
	store   *store.Store
	client  *remotetest.Client
	env     *host.Static
	notices *notice.Queue
	emitted []string
}

func newFixture(t *testing.T, network bool) *fixture {
	t.Helper()
	s, _ := storetest.New(t, store.Options{NetworkActive: network})
	env := host.NewStatic(config.Network{
		IsNetwork:       network,
		IsNetworkActive: network,
		MainBlogID:      1,
		Blogs: []config.Blog{
			{ID: 1, URL: "https://main.test"},
			{ID: 2, URL: "https://second.test"},
			{ID: 3, URL: "https://third.test"},
		},
	}, config.Module{Version: "1.0.0"})

	f := &fixture{store: s, client: new(remotetest.Client), env: env}
	bus := events.NewBus(10)
	bus.OnAny(func(_ context.Context, e events.Event) {
		f.emitted = append(f.emitted, e.Name)
	})
	f.notices = notice.NewQueue(s, storetest.Logger())
	module := models.Module{ID: 10, Slug: "my-module", PublicKey: "pk_module", Version: "1.0.0"}
	f.r = New(s, f.client, env, bus, f.notices, module, Options{}, storetest.Logger())
	f.r.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) seed(t *testing.T, blogID int64, site *models.Site) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveSite(ctx, blogID, site))
	user := &models.User{ID: 5, PublicKey: "pk_u", SecretKey: "sk_u", Email: "a@b.c"}
	require.NoError(t, f.store.SaveUser(ctx, f.store.AccountScope(blogID), user))
}

func baseSite() *models.Site {
	return &models.Site{ID: 100, PublicKey: "pk_i", SecretKey: "sk_i", UserID: 5, PlanID: 2, URL: "https://main.test"}
}

func notFound() error {
	return &remote.Error{Kind: remote.KindNotFound, Code: "subscription_not_found", Status: http.StatusNotFound}
}

const plansResponse = `{"plans": [{"id": 2, "name": "basic"}, {"id": 3, "name": "pro", "trial_period": 14}]}`

func TestSync_LicenseAppears(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 77, "url": "https://main.test"}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse)
	f.client.On("Call", mock.Anything, remote.ScopeUser, remote.Credentials{ID: 5, PublicKey: "pk_u", SecretKey: "sk_u"}, http.MethodGet, "plugins/10/licenses.json", mock.Anything).
		Return(remote.MustParse(`{"licenses": [{"id": 77, "plugin_id": 10, "user_id": 5, "plan_id": 3, "quota": 1, "activated": 1, "secret_key": "sk_77"}]}`), nil).Once()
	f.client.ExpectError(remote.ScopeInstall, http.MethodGet, "licenses/77/subscription.json", notFound())

	res, err := f.r.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ChangeActivated, res.Change)

	site, err := f.store.Site(ctx, 1)
	require.NoError(t, err)
	require.True(t, site.HasLicense())
	assert.Equal(t, int64(77), *site.LicenseID)
	assert.Equal(t, "sk_i", site.SecretKey)

	licenses, err := f.store.Licenses(ctx, store.Blog(1))
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	ids, err := f.store.UserLicenseIDs(ctx, store.Blog(1), 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{77}, ids)

	assert.Contains(t, f.emitted, events.PlanChanged)
	assert.Contains(t, f.emitted, events.LicenseActivated)
	assert.Contains(t, f.emitted, events.SyncCompleted)
	f.client.AssertExpectations(t)
}

func TestSync_ExpiredTrialAlreadyReflected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	site := baseSite()
	site.TrialPlanID = models.ID(3)
	site.TrialEnds = timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	f.seed(t, 1, site)
	data, err := f.env.InstallData(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, store.Blog(1), store.KeyInstallSnapshot, data))

	f.client.Expect(remote.ScopeInstall, http.MethodGet, "/", `{"id": 100, "user_id": 5, "plan_id": 2, "trial_plan_id": 3, "trial_ends": "2026-01-01T00:00:00Z", "url": "https://main.test"}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse)
	f.client.Expect(remote.ScopeUser, http.MethodGet, "plugins/10/licenses.json", `{"licenses": []}`)

	res, err := f.r.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ChangeNone, res.Change)
	assert.NotContains(t, f.emitted, events.PlanChanged)
	f.client.AssertExpectations(t)
}

func TestSync_TransportFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())
	f.client.ExpectError(remote.ScopeInstall, http.MethodPut, "/", &remote.Error{Kind: remote.KindTransport, Message: "timeout"})

	_, err := f.r.Sync(ctx, 1)
	require.Error(t, err)
	assert.True(t, remote.IsConnectivity(err))

	site, err := f.store.Site(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, baseSite(), site)
	found, err := f.store.Get(ctx, store.Blog(1), store.KeyInstallSnapshot, &models.InstallData{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSync_NotRegistered(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.r.Sync(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrNotRegistered)
}

func expiredLicense(blockFeatures bool) string {
	if blockFeatures {
		return `{"licenses": [{"id": 77, "plugin_id": 10, "user_id": 5, "plan_id": 3, "quota": 1, "activated": 1, "expiration": "2026-02-01T00:00:00Z", "is_block_features": true}]}`
	}
	return `{"licenses": [{"id": 77, "plugin_id": 10, "user_id": 5, "plan_id": 3, "quota": 1, "activated": 1, "expiration": "2026-02-01T00:00:00Z"}]}`
}

func TestSync_SoftExpiryKeepsLicense(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	site := baseSite()
	site.PlanID = 3
	site.LicenseID = models.ID(77)
	f.seed(t, 1, site)

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 77}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse)
	f.client.Expect(remote.ScopeUser, http.MethodGet, "plugins/10/licenses.json", expiredLicense(false))
	f.client.ExpectError(remote.ScopeInstall, http.MethodGet, "licenses/77/subscription.json", notFound())

	res, err := f.r.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ChangeNone, res.Change)
	assert.True(t, res.Site.HasLicense())

	has, err := f.notices.Has(ctx, 1, notice.TypeSoftExpiry)
	require.NoError(t, err)
	assert.True(t, has)
	var notified time.Time
	found, err := f.store.Get(ctx, store.Blog(1), store.KeySoftExpiryNotified, &notified)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, notified.Equal(testNow))
}

func TestSync_HardExpiryFallsBackToBasePlan(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	site := baseSite()
	site.PlanID = 3
	site.LicenseID = models.ID(77)
	f.seed(t, 1, site)

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 77}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse)
	f.client.Expect(remote.ScopeUser, http.MethodGet, "plugins/10/licenses.json", expiredLicense(true))

	res, err := f.r.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ChangeDowngraded, res.Change)

	stored, err := f.store.Site(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stored.HasLicense())
	assert.Equal(t, int64(2), stored.PlanID)
	f.client.AssertExpectations(t)
}

func TestSync_NetworkTriggersBulkActivation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	bulk := &fakeBulk{store: f.store}
	f.r.SetBulkActivator(bulk)
	f.seed(t, 1, baseSite())

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 77}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse)
	f.client.Expect(remote.ScopeUser, http.MethodGet, "plugins/10/licenses.json", `{"licenses": [{"id": 77, "plugin_id": 10, "user_id": 5, "plan_id": 3, "quota": 3, "activated": 1}]}`)
	f.client.ExpectError(remote.ScopeInstall, http.MethodGet, "licenses/77/subscription.json", notFound())

	res, err := f.r.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ChangeActivated, res.Change)
	assert.Equal(t, int64(77), bulk.licenseID)
	assert.Equal(t, []int64{2, 3}, bulk.blogIDs)
	require.NotNil(t, res.License)
	assert.Equal(t, 3, res.License.Activated)

	licenses, err := f.store.Licenses(ctx, store.Network())
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, 3, licenses[0].Activated)
}

func TestSync_BulkFailureKeepsServerCount(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.r.SetBulkActivator(bulkFunc(func(context.Context, *models.License, []int64) (*models.License, error) {
		return nil, models.ErrInsufficientQuota
	}))
	f.seed(t, 1, baseSite())

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 77}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse)
	f.client.Expect(remote.ScopeUser, http.MethodGet, "plugins/10/licenses.json", `{"licenses": [{"id": 77, "plugin_id": 10, "user_id": 5, "plan_id": 3, "quota": 3, "activated": 1}]}`)
	f.client.ExpectError(remote.ScopeInstall, http.MethodGet, "licenses/77/subscription.json", notFound())

	_, err := f.r.Sync(ctx, 1)
	require.NoError(t, err)

	licenses, err := f.store.Licenses(ctx, store.Network())
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, 1, licenses[0].Activated)
}

type bulkFunc func(ctx context.Context, l *models.License, blogIDs []int64) (*models.License, error)

func (f bulkFunc) BulkActivate(ctx context.Context, l *models.License, blogIDs []int64) (*models.License, error) {
	return f(ctx, l, blogIDs)
}

func seedLicenses(t *testing.T, f *fixture, blogID int64, list ...*models.License) {
	t.Helper()
	require.NoError(t, f.store.SaveLicenses(context.Background(), f.store.AccountScope(blogID), list))
}

func (f *fixture) withClones() *clone.Detector {
	d := clone.New(f.store, f.client, f.env, events.NewBus(10), f.notices, 0, storetest.Logger())
	f.r.SetCloneChecker(d)
	return d
}

func TestSync_CloneReportedOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	clones := f.withClones()
	site := baseSite()
	site.URL = "https://old.test"
	f.seed(t, 1, site)

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 2, "url": "https://old.test"}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "/", `{"id": 100, "user_id": 5, "plan_id": 2, "url": "https://old.test"}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse).Twice()
	f.client.Expect(remote.ScopeUser, http.MethodGet, "plugins/10/licenses.json", `{"licenses": []}`).Twice()
	f.client.Expect(remote.ScopeInstall, http.MethodPost, "clones.json", `{}`)

	for range 2 {
		_, err := f.r.Sync(ctx, 1)
		require.NoError(t, err)
	}

	rec, err := clones.Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, clone.StatePendingResolution, rec.State)
	assert.Equal(t, int64(100), rec.SiteID)
	f.client.AssertExpectations(t)
	f.client.AssertNumberOfCalls(t, "Call", 7)
}

func TestActivate_ChecksClone(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	clones := f.withClones()
	f.seed(t, 1, baseSite())

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 90, "url": "https://copy.test"}`)
	f.client.Expect(remote.ScopeInstall, http.MethodPost, "clones.json", `{}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "licenses/90.json", `{"id": 90, "plugin_id": 10, "user_id": 5, "quota": 5, "activated": 1, "secret_key": "sk_90"}`)

	_, err := f.r.Activate(ctx, 1, 0, "sk_90")
	require.NoError(t, err)

	rec, err := clones.Record(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, clone.StatePendingResolution, rec.State)
	assert.Equal(t, "copy.test", rec.RemoteURL)
	f.client.AssertExpectations(t)
}

func TestSync_FetchesForeignLicenseOfSite(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	site := baseSite()
	site.LicenseID = models.ID(90)
	f.seed(t, 1, site)
	require.NoError(t, f.store.SaveLicenses(ctx, store.Blog(1), []*models.License{{ID: 90, PluginID: 10, UserID: 8, SecretKey: "sk_90"}}))

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 90}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "plans.json", plansResponse)
	f.client.Expect(remote.ScopeUser, http.MethodGet, "plugins/10/licenses.json", `{"licenses": []}`)
	f.client.On("Call", mock.Anything, remote.ScopeInstall, mock.Anything, http.MethodGet, "licenses/90.json", url.Values{"license_key": {"sk_90"}}).
		Return(remote.MustParse(`{"id": 90, "plugin_id": 10, "user_id": 8, "plan_id": 3, "quota": 5, "activated": 2, "secret_key": "sk_90"}`), nil).Once()
	f.client.ExpectError(remote.ScopeInstall, http.MethodGet, "licenses/90/subscription.json", notFound())

	_, err := f.r.Sync(ctx, 1)
	require.NoError(t, err)

	licenses, err := f.store.Licenses(ctx, store.Blog(1))
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, 2, licenses[0].Activated)
	ids, err := f.store.UserLicenseIDs(ctx, store.Blog(1), 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
	f.client.AssertExpectations(t)
}

func TestActivate_Idempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())
	seedLicenses(t, f, 1, &models.License{ID: 77, PluginID: 10, UserID: 5, Quota: intPtr(2), SecretKey: "sk_77"})

	f.client.On("Call", mock.Anything, remote.ScopeInstall, mock.Anything, http.MethodPut, "/",
		map[string]any{"license_key": "sk_77"}).
		Return(remote.MustParse(`{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 77}`), nil).Once()

	l, err := f.r.Activate(ctx, 1, 77, "")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Activated)
	f.client.AssertNumberOfCalls(t, "Call", 1)

	_, err = f.r.Activate(ctx, 1, 77, "")
	require.NoError(t, err)
	f.client.AssertNumberOfCalls(t, "Call", 1)

	site, err := f.store.Site(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), site.PlanID)
	assert.Contains(t, f.emitted, events.LicenseActivated)
}

func TestActivate_ByKeyFetchesForeignLicense(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())

	f.client.Expect(remote.ScopeInstall, http.MethodPut, "/", `{"id": 100, "user_id": 5, "plan_id": 3, "license_id": 90}`)
	f.client.Expect(remote.ScopeInstall, http.MethodGet, "licenses/90.json", `{"id": 90, "plugin_id": 10, "user_id": 8, "quota": 5, "activated": 2, "secret_key": "sk_90"}`)

	l, err := f.r.Activate(ctx, 1, 0, "sk_90")
	require.NoError(t, err)
	assert.Equal(t, int64(8), l.UserID)

	licenses, err := f.store.Licenses(ctx, store.Blog(1))
	require.NoError(t, err)
	assert.NotNil(t, models.FindLicense(licenses, 90))
	f.client.AssertExpectations(t)
}

func TestActivate_MismatchMakesNoCall(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())
	seedLicenses(t, f, 1, &models.License{ID: 77, PluginID: 11, Quota: intPtr(2), SecretKey: "sk_77"})

	_, err := f.r.Activate(ctx, 1, 77, "")
	assert.ErrorIs(t, err, models.ErrLicenseMismatch)
	f.client.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestActivate_RejectedKeepsSite(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())
	f.client.ExpectError(remote.ScopeInstall, http.MethodPut, "/", &remote.Error{Kind: remote.KindValidation, Message: "License activation limit reached."})

	_, err := f.r.Activate(ctx, 1, 0, "sk_full")
	require.Error(t, err)
	assert.Equal(t, "License activation limit reached.", ErrorMessage(err))

	site, err := f.store.Site(ctx, 1)
	require.NoError(t, err)
	assert.False(t, site.HasLicense())
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	site := baseSite()
	site.PlanID = 3
	site.LicenseID = models.ID(77)
	f.seed(t, 1, site)
	seedLicenses(t, f, 1, &models.License{ID: 77, PluginID: 10, Quota: intPtr(2), Activated: 1})
	require.NoError(t, f.store.SavePlans(ctx, store.Blog(1), []*models.Plan{{ID: 2}, {ID: 3}}))
	require.NoError(t, f.store.SaveSubscriptions(ctx, store.Blog(1), []*models.Subscription{
		{ID: 1, LicenseID: 77}, {ID: 2, LicenseID: 80},
	}))
	f.client.Expect(remote.ScopeInstall, http.MethodDelete, "licenses/77.json", `{"id": 77}`)

	require.NoError(t, f.r.Deactivate(ctx, 1))

	stored, err := f.store.Site(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stored.HasLicense())
	assert.Equal(t, int64(2), stored.PlanID)

	subs, err := f.store.Subscriptions(ctx, store.Blog(1))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(80), subs[0].LicenseID)
	assert.Contains(t, f.emitted, events.LicenseDeactivated)

	assert.ErrorIs(t, f.r.Deactivate(ctx, 1), models.ErrNoLicense)
}

func TestStartTrial(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())
	require.NoError(t, f.store.SavePlans(ctx, store.Blog(1), []*models.Plan{{ID: 2, Name: "basic"}, {ID: 3, Name: "pro", TrialPeriod: 14}}))

	_, err := f.r.StartTrial(ctx, 1, 2)
	assert.ErrorIs(t, err, models.ErrTrialNotSupported)
	_, err = f.r.StartTrial(ctx, 1, 9)
	assert.ErrorIs(t, err, models.ErrPlanNotFound)

	f.client.Expect(remote.ScopeInstall, http.MethodPost, "trials.json", `{"id": 100, "user_id": 5, "plan_id": 2, "trial_plan_id": 3, "trial_ends": "2026-03-15T12:00:00Z"}`)
	site, err := f.r.StartTrial(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, site.IsTrial(testNow))
	assert.Contains(t, f.emitted, events.TrialStarted)

	_, err = f.r.StartTrial(ctx, 1, 3)
	assert.ErrorIs(t, err, models.ErrTrialUsed)
	f.client.AssertExpectations(t)
}

func TestCancelTrialOrSubscription(t *testing.T) {
	t.Run("no subscription", func(t *testing.T) {
		f := newFixture(t, false)
		f.seed(t, 1, baseSite())
		assert.ErrorIs(t, f.r.CancelTrialOrSubscription(context.Background(), 1), models.ErrNoSubscription)
	})

	t.Run("subscription not found remotely", func(t *testing.T) {
		f := newFixture(t, false)
		site := baseSite()
		site.LicenseID = models.ID(77)
		f.seed(t, 1, site)
		f.client.ExpectError(remote.ScopeInstall, http.MethodGet, "licenses/77/subscription.json", notFound())
		assert.ErrorIs(t, f.r.CancelTrialOrSubscription(context.Background(), 1), models.ErrNoSubscription)
	})

	t.Run("trial", func(t *testing.T) {
		f := newFixture(t, false)
		site := baseSite()
		site.TrialPlanID = models.ID(3)
		site.TrialEnds = timePtr(testNow.Add(time.Hour))
		f.seed(t, 1, site)
		f.client.Expect(remote.ScopeInstall, http.MethodDelete, "trials.json", `{"id": 100, "user_id": 5, "plan_id": 2, "trial_plan_id": 3, "trial_ends": "2026-03-01T11:00:00Z"}`)

		require.NoError(t, f.r.CancelTrialOrSubscription(context.Background(), 1))
		stored, err := f.store.Site(context.Background(), 1)
		require.NoError(t, err)
		assert.False(t, stored.IsTrial(testNow))
		assert.Contains(t, f.emitted, events.TrialCancelled)
	})

	t.Run("subscription", func(t *testing.T) {
		f := newFixture(t, false)
		ctx := context.Background()
		site := baseSite()
		site.LicenseID = models.ID(77)
		f.seed(t, 1, site)
		f.client.Expect(remote.ScopeInstall, http.MethodGet, "licenses/77/subscription.json", `{"id": 9, "license_id": 77, "billing_cycle": 12, "is_active": true}`)
		f.client.Expect(remote.ScopeInstall, http.MethodDelete, "licenses/77/subscriptions/9.json", `{"id": 9}`)

		require.NoError(t, f.r.CancelTrialOrSubscription(ctx, 1))
		subs, err := f.store.Subscriptions(ctx, store.Blog(1))
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.False(t, subs[0].IsActive)
		assert.Contains(t, f.emitted, events.SubscriptionCancelled)
	})
}

func TestCollectSubscriptions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	site := baseSite()
	site.LicenseID = models.ID(77)
	f.seed(t, 1, site)
	require.NoError(t, f.store.SaveSubscriptions(ctx, store.Blog(1), []*models.Subscription{
		{ID: 1, LicenseID: 77}, {ID: 2, LicenseID: 80}, {ID: 3, LicenseID: 81},
	}))

	require.NoError(t, f.r.collectSubscriptions(ctx, store.Blog(1)))

	subs, err := f.store.Subscriptions(ctx, store.Blog(1))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(1), subs[0].ID)
}

func TestCollectSubscriptions_SkipsWhenLocked(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	site := baseSite()
	site.LicenseID = models.ID(77)
	f.seed(t, 1, site)
	all := []*models.Subscription{{ID: 1, LicenseID: 77}, {ID: 2, LicenseID: 80}, {ID: 3, LicenseID: 81}}
	require.NoError(t, f.store.SaveSubscriptions(ctx, store.Blog(1), all))

	unlock, ok, err := f.store.Lock(ctx, lockSubscriptionsGC, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	require.NoError(t, f.r.collectSubscriptions(ctx, store.Blog(1)))
	subs, err := f.store.Subscriptions(ctx, store.Blog(1))
	require.NoError(t, err)
	assert.Len(t, subs, 3)
}

func TestCheckUpdate(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.seed(t, 1, baseSite())

	f.client.Expect(remote.ScopeInstall, http.MethodGet, "updates/latest.json", `{"id": 3, "version": "1.2.0", "url": "https://example.test/my-module.zip"}`)
	u, err := f.r.CheckUpdate(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "1.2.0", u.Version)

	f.client.Expect(remote.ScopeInstall, http.MethodGet, "updates/latest.json", `{"id": 2, "version": "1.0.0"}`)
	u, err = f.r.CheckUpdate(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, u)

	updates, err := f.store.Updates(ctx, store.Blog(1))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Contains(t, f.emitted, events.UpdateAvailable)
}
